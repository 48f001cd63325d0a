// Package session owns the lifecycle of managed sessions binding a
// room+participant identity to a persistent backend conversation.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// State is the lifecycle state of a managed session.
type State string

const (
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateExpired      State = "expired"
)

// canTransition reports whether s -> to is a legal lifecycle transition.
func (s State) canTransition(to State) bool {
	switch s {
	case StateActive:
		return to == StateReconnecting || to == StateDisconnected
	case StateReconnecting:
		return to == StateActive || to == StateDisconnected
	case StateDisconnected:
		return to == StateExpired
	default:
		return false
	}
}

// Identity carries whatever transport-level identity hints are available.
// Any subset of fields may be empty.
type Identity struct {
	RoomSID             string `json:"room_sid,omitempty"`
	RoomName            string `json:"room_name,omitempty"`
	ParticipantIdentity string `json:"participant_identity,omitempty"`
	ParticipantSID      string `json:"participant_sid,omitempty"`

	// CustomSessionID, when set, overrides derivation entirely.
	CustomSessionID string `json:"custom_session_id,omitempty"`
}

// DeriveID computes the session id for an identity. The derivation is pure:
// the same hints always yield the same id, so a participant reconnecting to
// the same room resolves to the same session. Preference order is the custom
// id, then roomSid+identity, then roomName+identity, then whatever is left.
func DeriveID(id Identity) string {
	if id.CustomSessionID != "" {
		return id.CustomSessionID
	}
	if id.RoomSID != "" && id.ParticipantIdentity != "" {
		return hashID("sid", id.RoomSID, id.ParticipantIdentity)
	}
	if id.RoomName != "" && id.ParticipantIdentity != "" {
		return hashID("name", id.RoomName, id.ParticipantIdentity)
	}
	return hashID("raw", id.RoomSID, id.RoomName, id.ParticipantIdentity, id.ParticipantSID)
}

func hashID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "vs_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Session is a snapshot of one managed session. Snapshots are values; all
// mutation goes through the Store.
type Session struct {
	ID             string    `json:"id"`
	Identity       Identity  `json:"identity"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	RequestCount   int64     `json:"request_count"`
}
