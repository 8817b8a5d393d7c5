// Package simulations owns the simulation record lifecycle.
//
// States:
//   - pending -> processing -> completed | failed
//   - completed | failed -> processing on resubmission
//
// SaveInput validates and normalizes caller input, then stores a pending
// record together with its canonical payload. Submit moves the record to
// processing before any network I/O, sends the stored payload to the
// external validator with retries, and always persists the terminal state
// before returning.
//
// Exactly one outbound submission runs per record: the store transition to
// processing is a compare-and-swap, and concurrent Submit calls for the same
// id inside one process join the submission already in flight.
package simulations
