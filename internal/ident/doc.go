// Package ident derives stable identities for reconciliation bookkeeping.
//
// Side effects fired by the notification engine are keyed by a content hash
// of (participant, effect). The hash is computed over canonical JSON so the
// same pair always yields the same key regardless of map ordering or Unicode
// normalization form of the participant id.
//
// Canonical JSON here means:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping
//   - strings NFC normalized
//   - no floats, no null
package ident
