// Package access answers "what can this user see in this portal" and
// keeps the answer current for connected sessions.
//
// Service composes the enrollment store, the tree builder and the
// resolver into per-portal visibility views, cached per (user, portal)
// and invalidated by feed events. Session is the one reconciliation
// loop a connected user gets: it consumes a feed subscription, applies
// events idempotently and pushes fresh snapshots to its consumer.
//
// Everything here fails closed: a missing enrollment, a rejected
// permission blob or a store failure yields "deny", never "grant".
package access
