package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/memberhub/accessd/pkg/audit"
)

// pingInterval keeps the listener connection alive through idle
// stretches so dead connections are noticed.
const pingInterval = 90 * time.Second

// Invalidator drops cached visibility views when enrollments change.
// The listener calls it for every decoded event, so caches stay honest
// for readers that never hold a session.
type Invalidator interface {
	Invalidate(userID, portalID string)
	InvalidateAll()
}

// Listener bridges Postgres LISTEN/NOTIFY into the Notifier. It owns a
// dedicated database connection (lib/pq's listener, separate from the
// GORM pool) and reconnects with backoff on transport failures.
type Listener struct {
	conninfo    string
	channel     string
	minRetry    time.Duration
	maxRetry    time.Duration
	notifier    *Notifier
	invalidator Invalidator
	log         logrus.FieldLogger
}

// NewListener creates a feed listener. conninfo is a libpq connection
// string or URL; channel is the NOTIFY channel installed by the
// migrations. invalidator may be nil when no view cache is in play.
func NewListener(conninfo, channel string, minRetry, maxRetry time.Duration, notifier *Notifier, invalidator Invalidator, log logrus.FieldLogger) *Listener {
	return &Listener{
		conninfo:    conninfo,
		channel:     channel,
		minRetry:    minRetry,
		maxRetry:    maxRetry,
		notifier:    notifier,
		invalidator: invalidator,
		log:         log,
	}
}

// Run listens until the context is cancelled. A feed disconnect is a
// recoverable TransportFailure: subscribers get a resync signal and the
// listener reconnects; it is never fatal to the process.
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.conninfo, l.minRetry, l.maxRetry, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
			l.log.WithError(err).Warn("feed connection lost, subscribers will resync")
		case pq.ListenerEventReconnected:
			l.log.Info("feed connection re-established")
		}
	})
	defer func() { _ = pl.Close() }()

	if err := pl.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to LISTEN on channel %s: %w", l.channel, err)
	}
	l.log.WithField("channel", l.channel).Info("feed listener started")

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n := <-pl.Notify:
			if n == nil {
				// lib/pq sends a nil notification after a reconnect;
				// anything sent during the gap is gone for good.
				l.resync("listener reconnected")
				continue
			}
			l.dispatch(n.Extra)

		case <-ticker.C:
			if err := pl.Ping(); err != nil {
				l.log.WithError(err).Warn("feed connection ping failed")
			}
		}
	}
}

func (l *Listener) dispatch(payload string) {
	ev, err := ParsePayload([]byte(payload))
	if err != nil {
		// An undecodable payload still proves something changed; resync
		// everyone rather than drop the change on the floor.
		l.log.WithError(err).Warn("undecodable feed payload, degrading to resync")
		l.resync("undecodable payload")
		return
	}

	l.log.WithFields(logrus.Fields{
		"event_type":    ev.Type,
		"enrollment_id": ev.Record.ID,
		"user_id":       ev.Record.UserID,
		"portal_id":     ev.Record.PortalID,
	}).Debug("dispatching feed event")
	// Cached views go before fan-out so a read racing the event cannot
	// re-pin the stale view.
	if l.invalidator != nil {
		l.invalidator.Invalidate(ev.Record.UserID, ev.Record.PortalID)
	}
	l.notifier.Publish(ev)
}

// resync purges every cached view and tells all subscribers to do a
// full pull. Reached when the feed cannot say what changed.
func (l *Listener) resync(reason string) {
	if l.invalidator != nil {
		l.invalidator.InvalidateAll()
	}
	l.notifier.BroadcastResync()
	audit.Log(audit.ResyncEvent{Reason: reason})
}
