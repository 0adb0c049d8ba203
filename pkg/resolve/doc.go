// Package resolve computes whether a permission grants access to a
// module or content node.
//
// Resolution is pure: no I/O, no side effects, callable with only
// in-memory data. Content grants are evaluated independently of the
// parent module's grant; a content item can be explicitly allowed while
// its module is not. That is recorded product behavior, not an
// oversight.
package resolve
