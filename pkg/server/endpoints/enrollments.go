package endpoints

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/config"
	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/model"
	"github.com/memberhub/accessd/pkg/server"
)

// GrantRequest is the body of POST /enrollments.
type GrantRequest struct {
	UserID     string           `json:"userId"`
	PortalID   string           `json:"portalId"`
	Permission model.Permission `json:"permission"`
}

// RegisterEnrollmentsEndpoints registers the enrollment CRUD endpoints
func RegisterEnrollmentsEndpoints(s *server.Server) {
	store := s.Store

	// GET /enrollments/user/{userID} - list a user's enrollments
	s.Router.HandleFunc("/enrollments/user/{userID}", handleListByUser(store)).Methods("GET")

	// GET /enrollments/portal/{portalID} - list a portal's membership
	s.Router.HandleFunc("/enrollments/portal/{portalID}", handleListByPortal(store)).Methods("GET")

	// POST /enrollments - grant (create or replace)
	s.Router.HandleFunc("/enrollments", handleGrant(s)).Methods("POST")

	// DELETE /enrollments/{userID}/{portalID} - revoke
	s.Router.HandleFunc("/enrollments/{userID}/{portalID}", handleRevoke(s)).Methods("DELETE")
}

func handleListByUser(store enrollment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		rows, err := store.ListByUser(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, clampList(r, rows))
	}
}

func handleListByPortal(store enrollment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		portalID := mux.Vars(r)["portalID"]

		rows, err := store.ListByPortal(r.Context(), portalID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, clampList(r, rows))
	}
}

func handleGrant(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GrantRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.UserID == "" || req.PortalID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and portalId are required"})
			return
		}

		by := actor(r)
		row, err := s.Store.Upsert(r.Context(), req.UserID, req.PortalID, req.Permission, by)
		if err == nil {
			s.Access.Invalidate(req.UserID, req.PortalID)
		}
		audit.Log(audit.GrantEvent{
			Actor:        by,
			UserID:       req.UserID,
			PortalID:     req.PortalID,
			Success:      err == nil,
			ErrorMessage: errMessage(err),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, row)
	}
}

func handleRevoke(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		userID := vars["userID"]
		portalID := vars["portalID"]

		by := actor(r)
		err := s.Store.Revoke(r.Context(), userID, portalID)
		if err == nil {
			s.Access.Invalidate(userID, portalID)
		}
		audit.Log(audit.RevokeEvent{
			Actor:        by,
			UserID:       userID,
			PortalID:     portalID,
			Success:      err == nil,
			ErrorMessage: errMessage(err),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// clampList applies the optional limit query parameter, capped by the
// configured maximum.
func clampList(r *http.Request, rows []model.Enrollment) []model.Enrollment {
	limit := config.Get().APIListLimitMax
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < limit {
			limit = l
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
