// Package audit records security-relevant enrollment operations.
//
// Every grant, revoke, membership sync, reconciliation pass and feed
// resync produces a typed event, logged in RFC5424 syslog format and
// optionally persisted to an audit database. Events carry enough
// structured data (user, portal, actor, outcome) to reconstruct who
// changed whose access and when.
package audit
