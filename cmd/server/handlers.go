package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dfaulken/rules/internal/logger"
	"github.com/dfaulken/rules/rules"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Driver:   s.db.Driver,
		Strategy: s.engine.Strategy().Name(),
		Counters: logger.Snapshot(),
		LastRun:  s.lastRunSummary(),
	}

	if err := s.db.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rulesList, err := s.db.Store.ListRules(r.Context())
	if err != nil {
		respondStoreError(w, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: rulesList})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.ApplicationOrder == nil {
		respondError(w, http.StatusBadRequest, "applicationOrder is required", nil)
		return
	}

	rule := &rules.Rule{
		ApplicationOrder: *req.ApplicationOrder,
		Active:           true,
		SourceColumn:     req.SourceColumn,
		SourcePattern:    req.SourcePattern,
		OutputColumn:     req.OutputColumn,
		OutputPattern:    req.OutputPattern,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := rules.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.db.Store.AddRule(r.Context(), rule); err != nil {
		respondStoreError(w, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, RuleResponse{Rule: rule, Warnings: s.ruleWarnings(r, rule.ID)})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.db.Store.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.db.Store.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondStoreError(w, "failed to get rule", err)
		return
	}

	if req.ApplicationOrder != nil {
		rule.ApplicationOrder = *req.ApplicationOrder
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.SourceColumn != nil {
		rule.SourceColumn = *req.SourceColumn
	}
	if req.SourcePattern != nil {
		rule.SourcePattern = *req.SourcePattern
	}
	if req.OutputColumn != nil {
		rule.OutputColumn = *req.OutputColumn
	}
	if req.OutputPattern != nil {
		rule.OutputPattern = *req.OutputPattern
	}

	if err := rules.ValidateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if err := s.db.Store.UpdateRule(r.Context(), rule); err != nil {
		respondStoreError(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, RuleResponse{Rule: rule, Warnings: s.ruleWarnings(r, rule.ID)})
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Store.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondStoreError(w, "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ruleWarnings lists the placeholders of the given rule that no active rule
// captures. Lookup failures only cost the warnings.
func (s *Server) ruleWarnings(r *http.Request, ruleID string) []string {
	all, err := s.db.Store.ListRules(r.Context())
	if err != nil {
		logger.Warn("failed to check rule set", "rule_id", ruleID, "error", err)
		return nil
	}

	var warnings []string
	for _, name := range rules.UnresolvedPlaceholders(all)[ruleID] {
		warnings = append(warnings, fmt.Sprintf("$%s is not captured by any active rule", name))
	}
	return warnings
}

// Create source line handler
func (s *Server) handleCreateSourceLine(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Fields) == 0 {
		respondError(w, http.StatusBadRequest, "fields are required", nil)
		return
	}

	line := &rules.SourceLine{Fields: req.Fields}
	if err := s.db.Store.AddSourceLine(r.Context(), line); err != nil {
		respondStoreError(w, "failed to create source line", err)
		return
	}

	respondJSON(w, http.StatusCreated, line)
}

// List source lines handler, optionally filtered by ?processed=true|false
func (s *Server) handleListSourceLines(w http.ResponseWriter, r *http.Request) {
	var (
		lines []*rules.SourceLine
		err   error
	)

	switch param := r.URL.Query().Get("processed"); param {
	case "":
		lines, err = s.db.Store.ListSourceLines(r.Context())
	default:
		processed, perr := strconv.ParseBool(param)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "processed must be true or false", perr)
			return
		}
		if !processed {
			lines, err = s.db.Store.ListUnprocessed(r.Context())
			break
		}
		lines, err = s.db.Store.ListSourceLines(r.Context())
		if err == nil {
			lines = onlyProcessed(lines)
		}
	}
	if err != nil {
		respondStoreError(w, "failed to list source lines", err)
		return
	}

	respondJSON(w, http.StatusOK, SourceLinesListResponse{SourceLines: lines})
}

func onlyProcessed(lines []*rules.SourceLine) []*rules.SourceLine {
	kept := []*rules.SourceLine{}
	for _, l := range lines {
		if l.Processed {
			kept = append(kept, l)
		}
	}
	return kept
}

// List output lines handler
func (s *Server) handleListOutputLines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.db.Store.ListOutputLines(r.Context())
	if err != nil {
		respondStoreError(w, "failed to list output lines", err)
		return
	}

	respondJSON(w, http.StatusOK, OutputLinesListResponse{OutputLines: lines})
}

// Run handler. Rule errors come back in the report with 200; a run stopped
// by the store answers 500 with the partial report.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runOnce(r.Context())

	resp := RunResponse{
		RunReport: report,
		Duration:  report.Duration().String(),
		Errors:    report.ErrorMessages(),
	}

	if runAborted(err) {
		resp.Aborted = err.Error()
		respondJSON(w, http.StatusInternalServerError, resp)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Preview handler
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Fields == nil {
		respondError(w, http.StatusBadRequest, "fields are required", nil)
		return
	}

	attrs, err := s.engine.Preview(r.Context(), req.Fields)
	var pe *rules.PersistenceError
	if errors.As(err, &pe) {
		respondError(w, http.StatusInternalServerError, "failed to load rules", err)
		return
	}

	if attrs == nil {
		attrs = rules.Attributes{}
	}

	resp := PreviewResponse{
		Strategy:   s.engine.Strategy().Name(),
		Attributes: attrs,
		WouldEmit:  len(attrs) > 0,
		Errors:     errorMessages(err),
	}
	if err != nil && s.engineConfig.OnTemplateError == rules.SkipRecord {
		resp.WouldEmit = false
	}

	respondJSON(w, http.StatusOK, resp)
}

// errorMessages flattens an errors.Join result into its messages.
func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondStoreError maps the store sentinels onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, rules.ErrDuplicateOrder):
		respondError(w, http.StatusConflict, message, err)
	default:
		logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}
