package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/access"
	"github.com/memberhub/accessd/pkg/batch"
	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/feed"
	"github.com/memberhub/accessd/pkg/reconcile"
)

type Server struct {
	Router     *mux.Router
	Store      enrollment.Store
	Access     *access.Service
	Editor     *batch.Editor
	Reconciler *reconcile.Reconciler
	Notifier   *feed.Notifier
	Log        logrus.FieldLogger
	srv        *http.Server
}

func NewServer(
	store enrollment.Store,
	accessSvc *access.Service,
	editor *batch.Editor,
	reconciler *reconcile.Reconciler,
	notifier *feed.Notifier,
	host string,
	port string,
	log logrus.FieldLogger,
) *Server {

	router := mux.NewRouter().UseEncodedPath()
	srv := &http.Server{
		Handler: handlers.LoggingHandler(os.Stdout, router),
		Addr:    host + ":" + port,
		// No WriteTimeout: the event stream endpoint holds its response
		// open for the life of the session.
		ReadTimeout: 15 * time.Second,
	}

	return &Server{
		Router:     router,
		Store:      store,
		Access:     accessSvc,
		Editor:     editor,
		Reconciler: reconciler,
		Notifier:   notifier,
		Log:        log,
		srv:        srv,
	}
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
