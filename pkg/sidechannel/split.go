package sidechannel

import (
	"encoding/base64"

	"github.com/google/uuid"
)

const defaultMaxChunkBytes = 12 * 1024

// Split fragments a payload into chunk envelopes small enough for a
// size-limited data path. maxBytes bounds the raw (pre-base64) bytes per
// chunk. Splitting a payload that fits in one chunk still yields a single
// envelope so the receive path is uniform.
func Split(payload []byte, maxBytes int) []ChunkEnvelope {
	if maxBytes <= 0 {
		maxBytes = defaultMaxChunkBytes
	}

	total := (len(payload) + maxBytes - 1) / maxBytes
	if total == 0 {
		total = 1
	}

	transferID := uuid.NewString()
	envelopes := make([]ChunkEnvelope, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxBytes
		end := start + maxBytes
		if end > len(payload) {
			end = len(payload)
		}
		envelopes = append(envelopes, ChunkEnvelope{
			Type:        TypeChunk,
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: total,
			Data:        base64.StdEncoding.EncodeToString(payload[start:end]),
		})
	}
	return envelopes
}
