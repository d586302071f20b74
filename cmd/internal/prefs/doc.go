// Package prefs provides the device-scoped key-value preference store backing
// AutoSpot session state.
//
// The mobile app persists a handful of string/integer preferences per device
// (timestamps and durations); this package abstracts that store behind a small
// interface so the session reconciler can be tested deterministically with the
// in-memory implementation and run against PostgreSQL in production.
//
// Values are stored as strings; integer accessors parse on read. Absence is a
// first-class state (ErrNotFound), not an error condition for callers that
// treat missing keys as "never written".
package prefs
