package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes. The version suffix leaves room for changing the key layout.
const (
	DomainEffect       = "wallace/effect/v1"
	DomainNotification = "wallace/notification/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EffectKey identifies one (participant, effect) pair. A side effect claimed
// under this key is applied at most once no matter how many jobs, sweeps or
// replays reach it.
func EffectKey(participantID, effect string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"participant_id": participantID,
		"effect":         effect,
	})
	if err != nil {
		return "", fmt.Errorf("EffectKey: %w", err)
	}
	return hashWithDomain(DomainEffect, canonical), nil
}

// NotificationKey fingerprints a platform event. Used to tag log lines so a
// redelivered job can be correlated with its first delivery.
func NotificationKey(eventType, assignmentID, participantID string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"event_type":     eventType,
		"assignment_id":  assignmentID,
		"participant_id": participantID,
	})
	if err != nil {
		return "", fmt.Errorf("NotificationKey: %w", err)
	}
	return hashWithDomain(DomainNotification, canonical), nil
}

// MustEffectKey is like EffectKey but panics on error.
// Only string inputs are hashed, so in practice it never panics.
func MustEffectKey(participantID, effect string) string {
	key, err := EffectKey(participantID, effect)
	if err != nil {
		panic(err)
	}
	return key
}
