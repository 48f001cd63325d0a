package sidechannel

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultIdleWindow = 30 * time.Second

// TransferError reports malformed or inconsistent chunk metadata. The
// offending transfer is dropped; the reassembler's other transfers are
// unaffected.
type TransferError struct {
	TransferID string
	Reason     string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("chunk transfer %q: %s", e.TransferID, e.Reason)
}

type transfer struct {
	slots    [][]byte
	filled   int
	lastSeen time.Time
}

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	Logger *slog.Logger

	// IdleWindow bounds how long a transfer may sit without new chunks
	// before it is evicted and dropped.
	IdleWindow time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Reassembler reconstructs logical payloads from chunk envelopes. Transfer
// buffers are owned exclusively by the reassembler; callers only ever see
// the completed, joined payload.
type Reassembler struct {
	logger     *slog.Logger
	idleWindow time.Duration
	now        func() time.Time

	mu        sync.Mutex
	transfers map[string]*transfer
}

// NewReassembler creates a Reassembler.
func NewReassembler(cfg ReassemblerConfig) *Reassembler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reassembler{
		logger:     cfg.Logger,
		idleWindow: cfg.IdleWindow,
		now:        cfg.Now,
		transfers:  make(map[string]*transfer),
	}
}

// Accept feeds one chunk envelope in. It returns the complete payload once
// every slot of the transfer is filled, or nil while chunks are still
// outstanding. Duplicate indices overwrite their slot; a chunk disagreeing
// about total_chunks or carrying undecodable data drops the whole transfer
// and returns a TransferError.
func (r *Reassembler) Accept(env ChunkEnvelope) ([]byte, error) {
	if env.TotalChunks < 1 {
		r.drop(env.TransferID)
		return nil, &TransferError{TransferID: env.TransferID, Reason: fmt.Sprintf("total_chunks %d < 1", env.TotalChunks)}
	}
	if env.ChunkIndex < 0 || env.ChunkIndex >= env.TotalChunks {
		r.drop(env.TransferID)
		return nil, &TransferError{
			TransferID: env.TransferID,
			Reason:     fmt.Sprintf("chunk_index %d out of range [0,%d)", env.ChunkIndex, env.TotalChunks),
		}
	}

	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		r.drop(env.TransferID)
		return nil, &TransferError{TransferID: env.TransferID, Reason: "undecodable chunk data"}
	}

	now := r.now()

	r.mu.Lock()
	r.sweepLocked(now)

	tr, ok := r.transfers[env.TransferID]
	if !ok {
		tr = &transfer{slots: make([][]byte, env.TotalChunks)}
		r.transfers[env.TransferID] = tr
	} else if len(tr.slots) != env.TotalChunks {
		delete(r.transfers, env.TransferID)
		r.mu.Unlock()
		return nil, &TransferError{
			TransferID: env.TransferID,
			Reason:     fmt.Sprintf("total_chunks changed from %d to %d", len(tr.slots), env.TotalChunks),
		}
	}

	if tr.slots[env.ChunkIndex] == nil {
		tr.filled++
	}
	tr.slots[env.ChunkIndex] = data
	tr.lastSeen = now

	if tr.filled < len(tr.slots) {
		r.mu.Unlock()
		return nil, nil
	}

	delete(r.transfers, env.TransferID)
	r.mu.Unlock()

	return bytes.Join(tr.slots, nil), nil
}

// Sweep evicts transfers idle past the window, returning how many were
// dropped. Accept also sweeps opportunistically; a background caller only
// needs Sweep to bound memory on a totally quiet channel.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

func (r *Reassembler) sweepLocked(now time.Time) int {
	dropped := 0
	for id, tr := range r.transfers {
		if now.Sub(tr.lastSeen) > r.idleWindow {
			delete(r.transfers, id)
			dropped++
			r.logger.Warn("chunk transfer abandoned",
				"transfer_id", id, "filled", tr.filled, "total", len(tr.slots))
		}
	}
	return dropped
}

// Pending returns the number of in-progress transfers.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

func (r *Reassembler) drop(id string) {
	r.mu.Lock()
	delete(r.transfers, id)
	r.mu.Unlock()
}
