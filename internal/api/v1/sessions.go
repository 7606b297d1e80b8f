package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/triagehq/triage/internal/domain"
)

type ListSessionsOutput struct {
	Body []*domain.SessionInfo
}

type GetSessionInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *domain.SessionInfo
}

type SessionHistoryInput struct {
	ID    string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
	Limit int    `query:"limit" minimum:"0" maximum:"1000" default:"200" doc:"Max entries, newest retained"`
}

type SessionHistoryOutput struct {
	Body []json.RawMessage
}

type DeleteSessionInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type DeleteSessionOutput struct {
	Body struct {
		Deleted bool `json:"deleted"`
	}
}

type ResetSessionInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type ResetSessionOutput struct {
	Body *domain.SessionInfo
}

type StopSessionInput struct {
	ID string `path:"id" minLength:"1" maxLength:"128" doc:"Session ID"`
}

type StopSessionOutput struct {
	Body struct {
		Stopped bool `json:"stopped"`
	}
}

func RegisterSessionRoutes(api huma.API, sessions SessionAdmin) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		infos := sessions.List()
		sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
		return &ListSessionsOutput{Body: infos}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		info, err := sessions.Info(input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}
		return &GetSessionOutput{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-history",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/history",
		Summary:     "Get a session's persisted event history",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionHistoryInput) (*SessionHistoryOutput, error) {
		entries, err := sessions.History(input.ID, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read session history", err)
		}
		return &SessionHistoryOutput{Body: entries}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Delete a session and its persisted state",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *DeleteSessionInput) (*DeleteSessionOutput, error) {
		if err := sessions.Delete(ctx, input.ID); err != nil {
			return nil, huma.Error500InternalServerError("failed to delete session", err)
		}
		out := &DeleteSessionOutput{}
		out.Body.Deleted = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/reset",
		Summary:     "Discard a session's engine and persisted state",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ResetSessionInput) (*ResetSessionOutput, error) {
		if err := sessions.Reset(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			if errors.Is(err, domain.ErrConflict) {
				return nil, huma.Error409Conflict("session has a turn in flight")
			}
			return nil, huma.Error500InternalServerError("failed to reset session", err)
		}

		info, err := sessions.Info(input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get reset session", err)
		}
		return &ResetSessionOutput{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/stop",
		Summary:     "Request cancellation of a session's in-flight turn",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *StopSessionInput) (*StopSessionOutput, error) {
		if err := sessions.Stop(input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to stop session", err)
		}
		out := &StopSessionOutput{}
		out.Body.Stopped = true
		return out, nil
	})
}
