package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/triagehq/triage/internal/api/v1"
	"github.com/triagehq/triage/internal/api/ws"
	"github.com/triagehq/triage/internal/approval"
	"github.com/triagehq/triage/internal/session"
)

func registerAPIRoutes(api huma.API, store *session.Store, approvals *approval.Correlator) {
	v1.RegisterSessionRoutes(api, store)
	v1.RegisterApprovalRoutes(api, approvals)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/chat", hub.ServeChat)
}
