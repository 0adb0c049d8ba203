// Package enrollment persists per-user-per-portal access grants.
//
// The Store interface abstracts the storage operations so services can
// be tested against an in-memory implementation; GormStore is the
// PostgreSQL implementation. Uniqueness of the (user_id, portal_id)
// pair is enforced by upsert-on-conflict at the database, not by
// application-level locking.
//
// Two write paths exist for permissions. Upsert replaces the permission
// object wholesale and is used when an admin sets a user's grant for a
// portal. Mutate applies commutative set add/remove operations under a
// row lock and is the write path for per-module and per-content edits;
// two concurrent editors of the same user's permissions cannot lose each
// other's change through it.
package enrollment
