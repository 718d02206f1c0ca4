package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/db"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/pipeline/steps"
	"github.com/Sahmey2004/xtern/internal/review"
	"github.com/Sahmey2004/xtern/internal/server/middleware"
	"github.com/Sahmey2004/xtern/internal/types"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status               string `json:"status"`
	Service              string `json:"service"`
	DatabaseConfigured   bool   `json:"database_configured"`
	OpenRouterConfigured bool   `json:"openrouter_configured"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:               "ok",
		Service:              ServiceName,
		DatabaseConfigured:   s.runs != nil,
		OpenRouterConfigured: s.llmConfigured,
	})
}

// decodeRunRequest reads an optional JSON body. An empty body means the
// default request.
func decodeRunRequest(r *http.Request) (types.RunRequest, error) {
	var req types.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, &ErrValidation{Field: "body", Message: err.Error()}
	}
	if err := req.Validate(); err != nil {
		return req, &pipeline.InvalidInputError{Cause: err}
	}
	return req, nil
}

func runOptions(req types.RunRequest) pipeline.RunOptions {
	return pipeline.RunOptions{
		SKUs:          req.SKUs,
		TriggeredBy:   req.TriggeredBy,
		HorizonMonths: req.HorizonMonths,
	}
}

// handleRun runs the pipeline to completion and returns its summary. Stage
// failures are reported in the summary, not as HTTP errors.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(r)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}

	rec, err := s.runner.Run(r.Context(), runOptions(req))
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, pipeline.Summarize(rec))
}

// handleRunStream runs the pipeline and streams progress via SSE
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(r)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := runOptions(req)
	opts.OnProgress = func(event pipeline.ProgressEvent) {
		if err := sse.WriteEvent(EventProgress, event); err != nil {
			s.logger.Warn("failed to write SSE event", zap.Error(err))
		}
	}

	rec, err := s.runner.Run(r.Context(), opts)
	if err != nil {
		sse.WriteError(err.Error())
		return
	}
	sse.WriteComplete(pipeline.Summarize(rec))
}

// handleApprove approves or rejects a draft PO. With reviewer tokens
// enabled the token subject replaces any reviewer in the body.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req types.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if s.jwtService != nil {
		reviewer, err := middleware.GetReviewer(r)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		req.Reviewer = reviewer
	}

	decision, err := s.review.Approve(r.Context(), r.PathValue("po_number"), req)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, decision.Response())
}

// queryInt reads a positive integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, &ErrValidation{Field: name, Message: "must be a positive integer"}
	}
	return n, nil
}

// rawResponse passes a provider payload through unchanged.
func (s *Server) rawResponse(w http.ResponseWriter, raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	s.jsonResponse(w, http.StatusOK, raw)
}

func (s *Server) handleListPOs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	raw, err := s.review.ListPOs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.rawResponse(w, raw)
}

func logQuery(r *http.Request) (review.LogQuery, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return review.LogQuery{}, err
	}
	q := r.URL.Query()
	return review.LogQuery{
		RunID:    strings.TrimSpace(q.Get("run_id")),
		PONumber: strings.TrimSpace(q.Get("po_number")),
		Limit:    limit,
	}, nil
}

func (s *Server) handleDecisionLog(w http.ResponseWriter, r *http.Request) {
	q, err := logQuery(r)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	raw, err := s.review.DecisionLog(r.Context(), q)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	s.rawResponse(w, raw)
}

// handleOverview returns the PO listing and decision log in one response.
// limit applies to the PO listing; log_limit to the decision log.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	logLimit, err := queryInt(r, "log_limit")
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	q := review.LogQuery{
		RunID:    strings.TrimSpace(r.URL.Query().Get("run_id")),
		PONumber: strings.TrimSpace(r.URL.Query().Get("po_number")),
		Limit:    logLimit,
	}

	snap, err := s.review.Snapshot(r.Context(), r.URL.Query().Get("status"), limit, q)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if len(snap.POs) == 0 {
		snap.POs = json.RawMessage("null")
	}
	if len(snap.Decisions) == 0 {
		snap.Decisions = json.RawMessage("null")
	}
	s.jsonResponse(w, http.StatusOK, snap)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorFrom(w, r, ErrRunHistoryDisabled)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}

	runs, err := s.runs.ListRuns(r.Context(), db.RunFilters{
		Status:      r.URL.Query().Get("status"),
		TriggeredBy: r.URL.Query().Get("triggered_by"),
		Limit:       limit,
	})
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "run_id", Message: "invalid run ID format"}
	}
	return id, nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorFrom(w, r, ErrRunHistoryDisabled)
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if run == nil {
		s.errorFrom(w, r, &ErrNotFound{Resource: "run", ID: runID.String()})
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleListRunSteps(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.errorFrom(w, r, ErrRunHistoryDisabled)
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}

	rows, err := s.runs.ListRunSteps(r.Context(), runID, nil, nil)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if rows == nil {
		rows = []db.RunStep{}
	}
	blocked, err := steps.BlockedSteps(r.Context(), s.runs, runID)
	if err != nil {
		s.errorFrom(w, r, err)
		return
	}
	if blocked == nil {
		blocked = []string{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id":  runID.String(),
		"steps":   rows,
		"count":   len(rows),
		"blocked": blocked,
	})
}
