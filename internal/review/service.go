// Package review is the human gate after compilation: approving or rejecting
// draft POs and reading back POs and the decision log.
package review

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/types"
)

// Query defaults
const (
	DefaultPOStatus = "all"
	DefaultPOLimit  = 20
	DefaultLogLimit = 50
)

// Service calls the PO provider on behalf of reviewers.
type Service struct {
	invoker mcp.Invoker
	logger  *zap.Logger
}

// NewService creates a Service.
func NewService(invoker mcp.Invoker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{invoker: invoker, logger: logger.With(zap.String("component", "review"))}
}

// Decision is the result of an approval call.
type Decision struct {
	PONumber  string
	NewStatus types.ApprovalStatus
	// Result is the provider's payload, merged into the response as-is.
	Result map[string]any
}

// Response flattens the decision the way the approval endpoint returns it.
func (d Decision) Response() map[string]any {
	out := make(map[string]any, len(d.Result)+3)
	out["status"] = "ok"
	out["po_number"] = d.PONumber
	out["new_status"] = string(d.NewStatus)
	for k, v := range d.Result {
		out[k] = v
	}
	return out
}

// Approve records the reviewer's decision on a draft PO.
func (s *Service) Approve(ctx context.Context, poNumber string, req types.ApprovalRequest) (Decision, error) {
	poNumber = strings.TrimSpace(poNumber)
	if poNumber == "" {
		return Decision{}, &InvalidRequestError{Message: "po_number is required"}
	}
	if err := req.Validate(); err != nil {
		return Decision{}, &InvalidRequestError{Message: "action must be 'approve' or 'reject' and reviewer is required", Cause: err}
	}

	overrides := req.LineItemOverrides
	if overrides == nil {
		overrides = []map[string]any{}
	}
	status := req.NewStatus()
	raw, err := s.invoker.Invoke(ctx, mcp.ProviderPO, "update_po_status", map[string]any{
		"po_number":           poNumber,
		"new_status":          string(status),
		"reviewer":            req.Reviewer,
		"notes":               req.Notes,
		"line_item_overrides": overrides,
	})
	if err != nil {
		return Decision{}, &ProviderCallError{Operation: "update_po_status", Cause: err}
	}

	result := map[string]any{}
	if len(raw) > 0 {
		// Non-object payloads are kept under "result".
		if err := json.Unmarshal(raw, &result); err != nil {
			var v any
			if json.Unmarshal(raw, &v) == nil {
				result = map[string]any{"result": v}
			}
		}
	}

	s.logger.Info("po reviewed",
		zap.String("po_number", poNumber),
		zap.String("new_status", string(status)),
		zap.String("reviewer", req.Reviewer),
	)
	return Decision{PONumber: poNumber, NewStatus: status, Result: result}, nil
}

// ListPOs returns the provider's PO listing unchanged.
func (s *Service) ListPOs(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	if strings.TrimSpace(status) == "" {
		status = DefaultPOStatus
	}
	if limit <= 0 {
		limit = DefaultPOLimit
	}
	raw, err := s.invoker.Invoke(ctx, mcp.ProviderPO, "get_pos", map[string]any{"status": status, "limit": limit})
	if err != nil {
		return nil, &ProviderCallError{Operation: "get_pos", Cause: err}
	}
	return raw, nil
}

// LogQuery filters the decision log. Empty fields are not sent.
type LogQuery struct {
	RunID    string
	PONumber string
	Limit    int
}

// DecisionLog returns the provider's decision-log entries unchanged.
func (s *Service) DecisionLog(ctx context.Context, q LogQuery) (json.RawMessage, error) {
	args := map[string]any{"limit": q.Limit}
	if q.Limit <= 0 {
		args["limit"] = DefaultLogLimit
	}
	if q.RunID != "" {
		args["run_id"] = q.RunID
	}
	if q.PONumber != "" {
		args["po_number"] = q.PONumber
	}
	raw, err := s.invoker.Invoke(ctx, mcp.ProviderPO, "get_decision_log", args)
	if err != nil {
		return nil, &ProviderCallError{Operation: "get_decision_log", Cause: err}
	}
	return raw, nil
}

// Snapshot is the PO listing and decision log fetched together.
type Snapshot struct {
	POs       json.RawMessage `json:"pos"`
	Decisions json.RawMessage `json:"decisions"`
}

// Snapshot fetches the PO listing and the decision log concurrently. The
// first failure cancels the other call.
func (s *Service) Snapshot(ctx context.Context, status string, limit int, q LogQuery) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := s.ListPOs(gctx, status, limit)
		snap.POs = raw
		return err
	})
	g.Go(func() error {
		raw, err := s.DecisionLog(gctx, q)
		snap.Decisions = raw
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
