package audit

import "fmt"

// GrantEvent records a portal access grant (create or replace).
type GrantEvent struct {
	Actor        string
	UserID       string
	PortalID     string
	Success      bool
	ErrorMessage string
}

func (e GrantEvent) MessageID() string {
	return "grant"
}

func (e GrantEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("%s granted %s access to portal %s", e.Actor, e.UserID, e.PortalID)
	}
	msg := fmt.Sprintf("%s failed to grant %s access to portal %s", e.Actor, e.UserID, e.PortalID)
	if e.ErrorMessage != "" {
		msg += ": " + e.ErrorMessage
	}
	return msg
}

func (e GrantEvent) Severity() Severity {
	if e.Success {
		return SeverityInfo
	}
	return SeverityWarning
}

func (e GrantEvent) Facility() int {
	return FacilityAuthPriv
}

func (e GrantEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDActor: {
			"actor": e.Actor,
		},
		SDIDSubject: {
			"user":   e.UserID,
			"portal": e.PortalID,
		},
		SDIDAction: {
			"operation": "grant",
			"result":    resultString(e.Success),
		},
	}
}

// RevokeEvent records removal of a portal access grant.
type RevokeEvent struct {
	Actor        string
	UserID       string
	PortalID     string
	Success      bool
	ErrorMessage string
}

func (e RevokeEvent) MessageID() string {
	return "revoke"
}

func (e RevokeEvent) Message() string {
	if e.Success {
		return fmt.Sprintf("%s revoked %s's access to portal %s", e.Actor, e.UserID, e.PortalID)
	}
	msg := fmt.Sprintf("%s failed to revoke %s's access to portal %s", e.Actor, e.UserID, e.PortalID)
	if e.ErrorMessage != "" {
		msg += ": " + e.ErrorMessage
	}
	return msg
}

func (e RevokeEvent) Severity() Severity {
	if e.Success {
		return SeverityNotice
	}
	return SeverityWarning
}

func (e RevokeEvent) Facility() int {
	return FacilityAuthPriv
}

func (e RevokeEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDActor: {
			"actor": e.Actor,
		},
		SDIDSubject: {
			"user":   e.UserID,
			"portal": e.PortalID,
		},
		SDIDAction: {
			"operation": "revoke",
			"result":    resultString(e.Success),
		},
	}
}

// BatchSyncEvent records one membership sync run by the batch editor.
// Scope names what was synced: "portal", "allowedModules" or
// "allowedContents".
type BatchSyncEvent struct {
	Actor   string
	Scope   string
	ScopeID string
	Applied int
	Failed  int
}

func (e BatchSyncEvent) MessageID() string {
	return "batch-sync"
}

func (e BatchSyncEvent) Message() string {
	if e.Failed == 0 {
		return fmt.Sprintf("%s synced %s %s: %d rows applied", e.Actor, e.Scope, e.ScopeID, e.Applied)
	}
	return fmt.Sprintf("%s synced %s %s: %d rows applied, %d failed", e.Actor, e.Scope, e.ScopeID, e.Applied, e.Failed)
}

func (e BatchSyncEvent) Severity() Severity {
	if e.Failed == 0 {
		return SeverityInfo
	}
	return SeverityWarning
}

func (e BatchSyncEvent) Facility() int {
	return FacilityAuthPriv
}

func (e BatchSyncEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDActor: {
			"actor": e.Actor,
		},
		SDIDSubject: {
			"scope": e.Scope,
			"id":    e.ScopeID,
		},
		SDIDAction: {
			"operation": "batch-sync",
			"applied":   fmt.Sprintf("%d", e.Applied),
			"failed":    fmt.Sprintf("%d", e.Failed),
		},
	}
}

// ReconcileEvent records a reconciliation pass for one user.
type ReconcileEvent struct {
	UserID            string
	Created           int
	FlaggedOrphans    int
	FlaggedDuplicates int
	Success           bool
	ErrorMessage      string
}

func (e ReconcileEvent) MessageID() string {
	return "reconcile"
}

func (e ReconcileEvent) Message() string {
	if !e.Success {
		msg := fmt.Sprintf("reconciliation for %s failed", e.UserID)
		if e.ErrorMessage != "" {
			msg += ": " + e.ErrorMessage
		}
		return msg
	}
	return fmt.Sprintf("reconciled %s: %d enrollments created, %d orphans flagged, %d duplicates flagged",
		e.UserID, e.Created, e.FlaggedOrphans, e.FlaggedDuplicates)
}

func (e ReconcileEvent) Severity() Severity {
	switch {
	case !e.Success:
		return SeverityError
	case e.FlaggedOrphans > 0 || e.FlaggedDuplicates > 0:
		return SeverityNotice
	default:
		return SeverityInfo
	}
}

func (e ReconcileEvent) Facility() int {
	return FacilityAuth
}

func (e ReconcileEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDSubject: {
			"user": e.UserID,
		},
		SDIDAction: {
			"operation":  "reconcile",
			"created":    fmt.Sprintf("%d", e.Created),
			"orphans":    fmt.Sprintf("%d", e.FlaggedOrphans),
			"duplicates": fmt.Sprintf("%d", e.FlaggedDuplicates),
			"result":     resultString(e.Success),
		},
	}
}

// ResyncEvent records a change feed gap: the listener reconnected,
// dropped a payload or overflowed a subscriber, and sessions were told
// to do a full pull.
type ResyncEvent struct {
	Reason string
}

func (e ResyncEvent) MessageID() string {
	return "feed-resync"
}

func (e ResyncEvent) Message() string {
	return "change feed signalled resync: " + e.Reason
}

func (e ResyncEvent) Severity() Severity {
	return SeverityNotice
}

func (e ResyncEvent) Facility() int {
	return FacilityAuth
}

func (e ResyncEvent) StructuredData() map[string]map[string]string {
	return map[string]map[string]string{
		SDIDAction: {
			"operation": "resync",
			"reason":    e.Reason,
		},
	}
}

func resultString(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
