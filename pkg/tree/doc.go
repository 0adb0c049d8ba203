// Package tree assembles a portal's flat module and content records into
// a cycle-safe forest.
//
// parent_module_id is unvalidated foreign data, so the builder keeps an
// arena of nodes indexed by id (no native pointer cycles) and walks it
// iteratively with a visited-set guard. A module whose parent chain is
// cyclic or points at a missing module is excluded from the forest and
// reported as an anomaly; it is never silently merged into the roots,
// and one bad branch never aborts the whole build.
package tree
