// Package goPin drives the PIN screens of a wallet application: first-time
// PIN set with confirmation, unlock with escalating lockout, the change flow,
// and an optional biometric fast-path.
//
// The package is built around a single [Controller]. UI commands go in
// through [Controller.Send] and view events come out of [Controller.Events];
// all flow state is owned by the goroutine running [Controller.Run], so the
// rendering layer never needs a lock. Hashing, key storage and platform
// biometrics stay behind the [SecureVault] and [BiometricProvider]
// interfaces.
//
// # Lockout
//
// Consecutive wrong PINs are counted in a persisted [FailureRecord]. Once the
// count reaches the configured maximum, validation is refused until the
// lock expires; each further failure after expiry doubles the delay up to
// a cap. Vault or store errors are never counted as wrong guesses. A guess
// that was checked but cannot be recorded fails the flow closed.
//
// # What this package must NOT do
//
//   - Keep PIN digits after a flow resolves, or write them to logs, audit
//     events or metrics.
//   - Consult or reset the failure counter on biometric success.
//   - Apply a vault or biometric result to a session other than the one
//     that started it.
package goPin
