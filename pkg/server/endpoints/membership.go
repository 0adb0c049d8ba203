package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/batch"
	"github.com/memberhub/accessd/pkg/server"
)

// PortalMembershipRequest is the desired membership for a portal.
type PortalMembershipRequest struct {
	Grants []batch.Grant `json:"grants"`
}

// NodeMembershipRequest is the desired holder set for one module or
// content id within a portal.
type NodeMembershipRequest struct {
	PortalID string   `json:"portalId"`
	UserIDs  []string `json:"userIds"`
}

// RegisterMembershipEndpoints registers the batch editor endpoints
func RegisterMembershipEndpoints(s *server.Server) {
	// POST /portals/{portalID}/membership - sync portal membership
	s.Router.HandleFunc("/portals/{portalID}/membership", handlePortalMembership(s)).Methods("POST")

	// POST /modules/{moduleID}/membership - sync one module's holder set
	s.Router.HandleFunc("/modules/{moduleID}/membership", handleModuleMembership(s)).Methods("POST")

	// POST /contents/{contentID}/membership - sync one content's holder set
	s.Router.HandleFunc("/contents/{contentID}/membership", handleContentMembership(s)).Methods("POST")
}

func handlePortalMembership(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		portalID := mux.Vars(r)["portalID"]

		var req PortalMembershipRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := s.Editor.SyncPortal(r.Context(), portalID, req.Grants)
		if err != nil {
			writeError(w, err)
			return
		}
		invalidateRows(s, res)
		audit.Log(audit.BatchSyncEvent{
			Actor:   actor(r),
			Scope:   "portal",
			ScopeID: portalID,
			Applied: res.Applied,
			Failed:  res.Failed,
		})
		writeJSON(w, syncStatus(res), res)
	}
}

func handleModuleMembership(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moduleID := mux.Vars(r)["moduleID"]

		var req NodeMembershipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.PortalID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "portalId is required"})
			return
		}

		res, err := s.Editor.SyncModule(r.Context(), req.PortalID, moduleID, req.UserIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		invalidateRows(s, res)
		audit.Log(audit.BatchSyncEvent{
			Actor:   actor(r),
			Scope:   "allowedModules",
			ScopeID: moduleID,
			Applied: res.Applied,
			Failed:  res.Failed,
		})
		writeJSON(w, syncStatus(res), res)
	}
}

func handleContentMembership(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID := mux.Vars(r)["contentID"]

		var req NodeMembershipRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.PortalID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "portalId is required"})
			return
		}

		res, err := s.Editor.SyncContent(r.Context(), req.PortalID, contentID, req.UserIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		invalidateRows(s, res)
		audit.Log(audit.BatchSyncEvent{
			Actor:   actor(r),
			Scope:   "allowedContents",
			ScopeID: contentID,
			Applied: res.Applied,
			Failed:  res.Failed,
		})
		writeJSON(w, syncStatus(res), res)
	}
}

// invalidateRows drops the cached view for every pair a sync touched.
// Rows that failed are dropped too; the store may have moved under a
// conflicting row and a recompute is the safe answer.
func invalidateRows(s *server.Server, res *batch.Result) {
	for _, row := range res.Rows {
		s.Access.Invalidate(row.UserID, row.PortalID)
	}
}

// syncStatus maps a partially failed sync to 207 so callers notice the
// per-row errors in the body.
func syncStatus(res *batch.Result) int {
	if res.Failed > 0 {
		return http.StatusMultiStatus
	}
	return http.StatusOK
}
