// Package models defines the records shared by the store, the request
// dispatcher and the notification engine.
//
// This package imports nothing internal. Graph entities (Node, Vector, Info,
// Transmission, Transformation) are created once and never deleted; failure
// is recorded through the Failed flag and TimeOfDeath. Notifications are
// append-only. Participant status is the only field mutated after creation
// and it never moves from a terminal value (>= 100) back below 100.
//
// All JSON tags use snake_case and match the field names of the original
// experiment client protocol.
package models
