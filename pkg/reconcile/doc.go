// Package reconcile repairs drift between the portal catalog and the
// enrollments a user actually holds.
//
// A reconcile pass creates default enrollments for active portals the
// user is missing, and flags — never auto-corrects — enrollments that
// reference missing or inactive portals and duplicate active rows.
// Destructive fixes stay a human decision.
//
// Passes run on demand (CLI or HTTP) or on a cron schedule, and always
// off the feed dispatch loop.
package reconcile
