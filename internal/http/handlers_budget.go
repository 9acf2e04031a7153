package http

import (
	"net/http"

	applog "fintrack/internal/log"
)

// handleGetBudget returns the budget, creating it with zero limits on first
// read.
func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBudget(r.Context())
	if err != nil {
		writeError(w, r, applog.OpRead, "", err)
		return
	}
	NewJSONResponse().Body(toBudgetJSON(b)).Write(w)
}

// handleSaveBudget replaces every limit. Categories left out of the body are
// reset to zero.
func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	limits, err := ParseBudgetLimits(r)
	if err != nil {
		writeError(w, r, applog.OpUpdate, "", err)
		return
	}

	b, err := s.svc.SaveBudget(r.Context(), limits)
	if err != nil {
		writeError(w, r, applog.OpUpdate, "", err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Budget saved", "categories", len(limits))

	NewJSONResponse().Body(toBudgetJSON(b)).Write(w)
}
