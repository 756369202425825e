// Package audit delivers PIN and biometric flow outcomes to a [Sink] off the
// controller goroutine.
//
// [Event] has typed fields for failure counts and lock deadlines and no field
// that can carry PIN digits. [Dispatcher] buffers events; under backpressure
// it drops ordinary events but gives counted guesses, locks and storage
// failures a bounded wait before counting them as dropped.
//
// # What this package must NOT do
//
//   - Decide which events to emit. The controller does.
//   - Import goPin or any sibling internal package.
package audit
