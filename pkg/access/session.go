package access

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/enrollment"
	"github.com/memberhub/accessd/pkg/feed"
	"github.com/memberhub/accessd/pkg/model"
)

// SnapshotHandler receives each snapshot a session emits. It runs on
// the session goroutine, so it must not block for long.
type SnapshotHandler func(*Snapshot)

// Session keeps one user's visibility current. It subscribes to the
// feed, applies events idempotently by record ID, and falls back to a
// full pull whenever the feed admits it may have dropped something.
type Session struct {
	userID   string
	svc      *Service
	store    enrollment.Store
	notifier *feed.Notifier
	handler  SnapshotHandler
	log      logrus.FieldLogger

	// held is the session's picture of the user's rows, by enrollment
	// ID. It is touched only from Run's goroutine.
	held map[string]model.Enrollment
}

// NewSession wires a session for userID. Run must be called to start it.
func NewSession(svc *Service, store enrollment.Store, notifier *feed.Notifier, userID string, handler SnapshotHandler, log logrus.FieldLogger) *Session {
	return &Session{
		userID:   userID,
		svc:      svc,
		store:    store,
		notifier: notifier,
		handler:  handler,
		log:      log.WithField("user", userID),
		held:     make(map[string]model.Enrollment),
	}
}

// Run subscribes, performs an initial full pull, then applies feed
// events until ctx is cancelled or the subscription is closed. The
// initial pull must succeed; after that, pull failures are logged and
// the session keeps serving its last known state.
func (s *Session) Run(ctx context.Context) error {
	sub := s.notifier.Subscribe(s.userID)
	defer sub.Close()

	if err := s.resync(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Resync:
			if err := s.resync(ctx); err != nil {
				s.log.WithError(err).Error("resync failed, keeping last known state")
			}
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			s.apply(ctx, ev)
		}
	}
}

// apply folds one feed event into held state. Events may arrive out of
// order or more than once; a held row strictly newer than the incoming
// record wins, and deletes of unknown rows are no-ops.
func (s *Session) apply(ctx context.Context, ev feed.Event) {
	switch ev.Type {
	case feed.EventDelete:
		held, ok := s.held[ev.Record.ID]
		if !ok {
			return
		}
		delete(s.held, ev.Record.ID)
		s.svc.Invalidate(s.userID, held.PortalID)
	case feed.EventInsert, feed.EventUpdate:
		if held, ok := s.held[ev.Record.ID]; ok && held.NewerThan(ev.Record) {
			s.log.WithField("enrollment", ev.Record.ID).Debug("dropping stale feed event")
			return
		}
		s.held[ev.Record.ID] = ev.Record
		s.svc.Invalidate(s.userID, ev.Record.PortalID)
	default:
		return
	}
	s.emit(ctx)
}

// resync replaces held state with the store's truth and emits.
func (s *Session) resync(ctx context.Context) error {
	rows, err := s.store.ListByUser(ctx, s.userID)
	if err != nil {
		return err
	}
	s.held = make(map[string]model.Enrollment, len(rows))
	for _, row := range rows {
		s.held[row.ID] = row
	}
	s.svc.InvalidateUser(s.userID)
	s.emit(ctx)
	return nil
}

func (s *Session) emit(ctx context.Context) {
	snap, err := s.svc.Snapshot(ctx, s.userID)
	if err != nil {
		s.log.WithError(err).Error("snapshot failed, consumer keeps last known state")
		return
	}
	s.handler(snap)
}
