// Package feed delivers enrollment mutation events to subscribed
// sessions.
//
// A database trigger emits a JSON payload on every INSERT, UPDATE and
// DELETE of the enrollments table; Listener receives those payloads over
// Postgres LISTEN/NOTIFY and hands them to Notifier, which fans them out
// to per-user subscriptions.
//
// Delivery is at-least-once and not ordered across independent
// mutations. Consumers must apply events idempotently: by record id,
// last-write-wins on the record's own timestamp, never by arrival
// order. Whenever the feed cannot guarantee it delivered everything (a
// reconnect, a malformed payload, a full subscriber buffer) the
// subscription receives a resync signal instead, and the consumer must
// do a full pull before resuming increments. Missed events are not
// redelivered.
//
// A Subscription holds a connection-scoped resource and must be closed
// when the consumer stops caring, or it leaks.
package feed
