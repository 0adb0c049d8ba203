package endpoints

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhub/accessd/pkg/audit"
	"github.com/memberhub/accessd/pkg/server"
)

// RegisterReconcileEndpoints registers the on-demand reconciliation endpoint
func RegisterReconcileEndpoints(s *server.Server) {
	// POST /reconcile/{userID} - run one reconciliation pass, return the report
	s.Router.HandleFunc("/reconcile/{userID}", handleReconcile(s)).Methods("POST")
}

func handleReconcile(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		report, err := s.Reconciler.Reconcile(r.Context(), userID)
		if err == nil {
			s.Access.InvalidateUser(userID)
		}
		ev := audit.ReconcileEvent{
			UserID:       userID,
			Success:      err == nil,
			ErrorMessage: errMessage(err),
		}
		if report != nil {
			ev.Created = len(report.Created)
			ev.FlaggedOrphans = len(report.FlaggedOrphans)
			ev.FlaggedDuplicates = len(report.FlaggedDuplicates)
		}
		audit.Log(ev)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
