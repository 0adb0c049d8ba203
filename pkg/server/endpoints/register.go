package endpoints

import (
	"github.com/memberhub/accessd/pkg/server"
)

// RegisterAll registers all API endpoints on the server
func RegisterAll(srv *server.Server) {
	RegisterVisibilityEndpoints(srv)
	RegisterEnrollmentsEndpoints(srv)
	RegisterMembershipEndpoints(srv)
	RegisterReconcileEndpoints(srv)
	RegisterEventsEndpoints(srv)
	RegisterStatusEndpoints(srv)
}
