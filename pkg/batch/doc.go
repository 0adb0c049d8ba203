// Package batch turns an admin's desired membership picture into store
// writes. The editor fetches current state once, computes the diff and
// persists it through a single batch call; every row write is atomic
// but the batch as a whole is not, so an abandoned save never leaves a
// half-written row behind.
package batch
