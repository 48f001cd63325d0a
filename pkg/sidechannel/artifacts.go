package sidechannel

import "sync"

const defaultArtifactCap = 32

// ArtifactBuffer retains the most recent artifacts for the client UI,
// evicting oldest-first once the cap is reached.
type ArtifactBuffer struct {
	mu    sync.Mutex
	cap   int
	items []ArtifactEvent
}

// NewArtifactBuffer creates a buffer holding at most capacity artifacts.
func NewArtifactBuffer(capacity int) *ArtifactBuffer {
	if capacity <= 0 {
		capacity = defaultArtifactCap
	}
	return &ArtifactBuffer{cap: capacity}
}

// Add appends an artifact, evicting the oldest if the buffer is full.
func (b *ArtifactBuffer) Add(artifact ArtifactEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.cap {
		copy(b.items, b.items[1:])
		b.items = b.items[:b.cap-1]
	}
	b.items = append(b.items, artifact)
}

// Recent returns the retained artifacts, oldest first.
func (b *ArtifactBuffer) Recent() []ArtifactEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ArtifactEvent, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of retained artifacts.
func (b *ArtifactBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
