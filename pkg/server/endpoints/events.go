package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/server"
)

// RegisterEventsEndpoints registers the snapshot stream endpoint
func RegisterEventsEndpoints(s *server.Server) {
	// GET /events/{userID} - server-sent stream of visibility snapshots
	s.Router.HandleFunc("/events/{userID}", handleEvents(s)).Methods("GET")
}

// handleEvents bridges one feed subscription to a server-sent event
// stream. The session, and with it the subscription, lives exactly as
// long as the request: a client disconnect cancels the request context
// and Run returns, releasing both.
func handleEvents(s *server.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["userID"]

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Run drives the handler on this request's goroutine, so the
		// writes below never race.
		sess := access.NewSession(s.Access, s.Store, s.Notifier, userID,
			func(snap *access.Snapshot) {
				payload, err := json.Marshal(snap)
				if err != nil {
					s.Log.WithError(err).Error("failed to encode snapshot for stream")
					return
				}
				_, _ = w.Write([]byte("data: "))
				_, _ = w.Write(payload)
				_, _ = w.Write([]byte("\n\n"))
				flusher.Flush()
			}, s.Log)

		if err := sess.Run(r.Context()); err != nil && r.Context().Err() == nil {
			s.Log.WithError(err).WithField("user", userID).Error("event stream ended")
		}
	}
}
