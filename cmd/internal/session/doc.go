// Package session implements AutoSpot's parking-session state model.
//
// A device persists up to four preference fields: the last moment the app was
// known foregrounded, the start of an active parking session, and the start
// plus configured duration of a countdown-to-parking timer. When the app
// returns to the foreground it runs reconciliation exactly once: the persisted
// fields and the current time are reduced to one of three states (cleared,
// countdown running, parking active) and stale or malformed fields are removed.
//
// All ambiguity fails toward the cleared state: a field that cannot be parsed
// never resumes a timer. The current time is always an explicit argument so
// behavior is deterministic under test.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
