// Package pin provides wallet PIN hashing and verification for AutoSpot.
//
// Ending a paid parking session is gated behind a short numeric PIN. PINs are
// hashed with Argon2id using a PHC-like encoded string format and verified in
// constant time. Hash strings are treated as untrusted input during Verify and
// parameter bounds are enforced to keep attacker-supplied hashes from causing
// pathological resource usage.
package pin
