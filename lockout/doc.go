// Package lockout throttles PIN guessing.
//
// Policy is pure: it turns a persisted FailureRecord and an injected clock
// reading into a State, and computes the next record after a failed or
// successful validation. Store implementations own persistence and must make
// Update an atomic read-modify-write across processes.
package lockout
