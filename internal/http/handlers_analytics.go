package http

import (
	"encoding/json"
	"net/http"

	applog "fintrack/internal/log"
)

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.svc.Totals(r.Context())
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}

	categories := make(map[string]json.Number, len(totals.ByCategory))
	for id, v := range totals.ByCategory {
		categories[id] = money(v)
	}
	NewJSONResponse().Body(totalsJSON{Categories: categories, Total: money(totals.Total)}).Write(w)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.svc.Insights(r.Context())
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	NewJSONResponse().Body(toInsightsJSON(insights)).Write(w)
}

func (s *Server) handleTopCategories(w http.ResponseWriter, r *http.Request) {
	n, err := ParseTopN(r)
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	top, err := s.svc.TopCategories(r.Context(), n)
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	NewJSONResponse().Body(toLabelTotalsJSON(top)).Write(w)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.svc.Breakdown(r.Context())
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	NewJSONResponse().Body(toBreakdownJSON(breakdown)).Write(w)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	lines, err := s.svc.Comparison(r.Context())
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	NewJSONResponse().Body(toComparisonJSON(lines)).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, applog.OpAnalyze, "", err)
		return
	}
	NewJSONResponse().Body(dashboardJSON{
		TotalExpenses: money(d.TotalExpenses),
		Transactions:  d.Transactions,
		TopCategories: toLabelTotalsJSON(d.TopCategories),
		Recent:        s.transactionsJSON(d.Recent),
		Breakdown:     toBreakdownJSON(d.Breakdown),
		Comparison:    toComparisonJSON(d.Comparison),
		Insights:      toInsightsJSON(d.Insights),
	}).Write(w)
}
