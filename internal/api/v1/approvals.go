package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type SubmitDecisionInput struct {
	ID   string `path:"id" minLength:"1" maxLength:"128" doc:"Approval request ID"`
	Body struct {
		Approved bool   `json:"approved" doc:"Whether the tool invocation is approved"`
		Reason   string `json:"reason,omitempty" maxLength:"512" doc:"Optional human-readable reason"`
	}
}

type SubmitDecisionOutput struct {
	Body struct {
		Accepted bool `json:"accepted" doc:"False when the approval was already resolved, expired, or unknown"`
	}
}

// RegisterApprovalRoutes exposes the HTTP path for tool-approval decisions.
// Decisions are keyed by approval id alone, so a decision submitted here can
// settle a request issued over any chat connection.
func RegisterApprovalRoutes(api huma.API, sink DecisionSink) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-approval-decision",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/decision",
		Summary:     "Resolve a pending tool-approval request",
		Tags:        []string{"Approvals"},
	}, func(_ context.Context, input *SubmitDecisionInput) (*SubmitDecisionOutput, error) {
		out := &SubmitDecisionOutput{}
		out.Body.Accepted = sink.SubmitDecision(input.ID, input.Body.Approved, input.Body.Reason)
		return out, nil
	})
}
