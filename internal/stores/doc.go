// Package stores implements the ephemeral protocol state of the auth
// subsystem over Redis: outstanding challenges, single-use verification
// tokens, step-up one-time codes, and step-up approval markers.
//
// Every record carries its own expiry and is checked at read time, so an
// expired record behaves identically to a missing one regardless of whether
// Redis eviction has run. Single-use consumption is atomic (GETDEL or a
// WATCH transaction): when two callers race for one record, exactly one
// observes it.
package stores
