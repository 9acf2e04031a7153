package http

import (
	"net/http"

	"github.com/gorilla/mux"

	applog "fintrack/internal/log"
)

const transactionNotFound = "Transaction not found"

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.svc.ListTransactions(r.Context())
	if err != nil {
		writeError(w, r, applog.OpList, "", err)
		return
	}
	NewJSONResponse().Body(s.transactionsJSON(txns)).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := ParseCreateTransaction(r)
	if err != nil {
		writeError(w, r, applog.OpCreate, "", err)
		return
	}

	created, err := s.svc.CreateTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, applog.OpCreate, "", err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created",
		applog.NewFields().WithTransaction(created.ID, created.Amount.String(), created.Category).ToSlice()...)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+created.ID).
		Body(s.transactionJSON(created)).
		Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, applog.OpRead, transactionNotFound, err)
		return
	}
	NewJSONResponse().Body(s.transactionJSON(t)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	patch, err := ParseTransactionPatch(r)
	if err != nil {
		writeError(w, r, applog.OpUpdate, "", err)
		return
	}

	updated, err := s.svc.UpdateTransaction(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, r, applog.OpUpdate, transactionNotFound, err)
		return
	}
	NewJSONResponse().Body(s.transactionJSON(updated)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.DeleteTransaction(r.Context(), id); err != nil {
		writeError(w, r, applog.OpDelete, transactionNotFound, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted", applog.FieldTransactionID, id)

	NewJSONResponse().Body(map[string]string{"message": "Transaction deleted successfully"}).Write(w)
}
