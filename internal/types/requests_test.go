package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request RunRequest
		wantErr bool
	}{
		{name: "empty request is auto-select", request: RunRequest{}},
		{name: "explicit skus", request: RunRequest{SKUs: []string{"A", "B"}, HorizonMonths: 6}},
		{name: "negative horizon", request: RunRequest{HorizonMonths: -1}, wantErr: true},
		{name: "horizon too long", request: RunRequest{HorizonMonths: 36}, wantErr: true},
		{name: "blank sku", request: RunRequest{SKUs: []string{"A", ""}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunRequest_Normalize(t *testing.T) {
	req := RunRequest{SKUs: []string{" A ", "  ", "B"}}
	req.Normalize()

	assert.Equal(t, DefaultTriggeredBy, req.TriggeredBy)
	assert.Equal(t, DefaultHorizonMonths, req.HorizonMonths)
	assert.Equal(t, []string{"A", "B"}, req.SKUs)
}

func TestApprovalRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request ApprovalRequest
		wantErr bool
	}{
		{name: "approve", request: ApprovalRequest{Reviewer: "dana", Action: ActionApprove}},
		{name: "reject with notes", request: ApprovalRequest{Reviewer: "dana", Action: ActionReject, Notes: "price too high"}},
		{name: "missing reviewer", request: ApprovalRequest{Action: ActionApprove}, wantErr: true},
		{name: "unknown action", request: ApprovalRequest{Reviewer: "dana", Action: "escalate"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApprovalRequest_NewStatus(t *testing.T) {
	assert.Equal(t, ApprovalApproved, (&ApprovalRequest{Action: ActionApprove}).NewStatus())
	assert.Equal(t, ApprovalRejected, (&ApprovalRequest{Action: ActionReject}).NewStatus())
}
