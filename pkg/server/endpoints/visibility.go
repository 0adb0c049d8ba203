package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/server"
)

// RegisterVisibilityEndpoints registers the resolved-visibility endpoints
func RegisterVisibilityEndpoints(s *server.Server) {
	// GET /visibility/{userID} - resolved trees for every active portal
	s.Router.HandleFunc("/visibility/{userID}", handleVisibility(s.Access)).Methods("GET")

	// GET /visibility/{userID}/portals/{portalID} - one portal's tree
	s.Router.HandleFunc("/visibility/{userID}/portals/{portalID}", handlePortalVisibility(s.Access)).Methods("GET")
}

func handleVisibility(svc *access.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		snap, err := svc.Snapshot(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handlePortalVisibility(svc *access.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		view, err := svc.PortalSnapshot(r.Context(), vars["userID"], vars["portalID"])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
