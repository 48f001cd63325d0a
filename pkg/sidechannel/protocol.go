// Package sidechannel implements the chunked JSON envelope protocol used to
// move structured status, artifact, and metrics events over a size-limited
// data path alongside the audio stream.
package sidechannel

import (
	"encoding/json"
	"fmt"
)

// Envelope and payload type tags.
const (
	TypeChunk    = "chunk"
	TypeStatus   = "status"
	TypeArtifact = "artifact"
	TypeMetrics  = "metrics"
)

// ChunkEnvelope is one fragment of a larger payload. Data is base64.
type ChunkEnvelope struct {
	Type        string `json:"type"`
	TransferID  string `json:"transfer_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Data        string `json:"data"`
}

// StatusEvent is ephemeral UX feedback; it is never persisted.
type StatusEvent struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
}

// ArtifactType enumerates the visual content kinds a brain may emit.
type ArtifactType string

const (
	ArtifactDiff          ArtifactType = "diff"
	ArtifactCode          ArtifactType = "code"
	ArtifactFile          ArtifactType = "file"
	ArtifactSearchResults ArtifactType = "search_results"
	ArtifactImage         ArtifactType = "image"
)

// ArtifactEvent is visual content for the client UI. It is never spoken.
type ArtifactEvent struct {
	Type         string       `json:"type"`
	ArtifactType ArtifactType `json:"artifact_type"`
	Title        string       `json:"title,omitempty"`
	Language     string       `json:"language,omitempty"`
	Content      string       `json:"content,omitempty"`
	URI          string       `json:"uri,omitempty"`
}

// MetricsEvent carries one turn's latency breakdown, in milliseconds.
type MetricsEvent struct {
	Type    string             `json:"type"`
	Metrics map[string]float64 `json:"metrics"`
}

// DecodeEvent decodes a reassembled (or unfragmented) payload into one of
// StatusEvent, ArtifactEvent, or MetricsEvent.
func DecodeEvent(payload []byte) (any, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch probe.Type {
	case TypeStatus:
		var ev StatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode status event: %w", err)
		}
		return ev, nil
	case TypeArtifact:
		var ev ArtifactEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode artifact event: %w", err)
		}
		return ev, nil
	case TypeMetrics:
		var ev MetricsEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode metrics event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown side-channel event type %q", probe.Type)
	}
}
