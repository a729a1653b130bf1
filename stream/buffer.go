package stream

import (
	"errors"
	"sync"

	"github.com/BaSui01/streamgate/types"
)

// ErrBufferSealed is returned by Append after the owning run terminated.
var ErrBufferSealed = errors.New("stream: buffer sealed")

// Buffer holds the turns produced during one run, partitioned into saved and
// unsaved. Order of insertion is preserved and each turn is handed out by
// DrainUnsaved at most once.
type Buffer struct {
	mu     sync.Mutex
	turns  []types.Turn
	saved  int // turns[:saved] are persisted
	sealed bool
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds turns as unsaved.
func (b *Buffer) Append(turns ...types.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return ErrBufferSealed
	}
	b.turns = append(b.turns, turns...)
	return nil
}

// DrainUnsaved returns the unsaved turns in insertion order and marks them
// saved. A second call without intervening appends returns nothing.
func (b *Buffer) DrainUnsaved() []types.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saved == len(b.turns) {
		return nil
	}
	out := make([]types.Turn, len(b.turns)-b.saved)
	copy(out, b.turns[b.saved:])
	b.saved = len(b.turns)
	return out
}

// MarkSaved records every buffered turn as persisted.
func (b *Buffer) MarkSaved() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = len(b.turns)
}

// Turns returns a copy of every turn of the run.
func (b *Buffer) Turns() []types.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Len returns the number of buffered turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// UnsavedLen returns the number of turns not yet persisted.
func (b *Buffer) UnsavedLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns) - b.saved
}

// Seal rejects further appends.
func (b *Buffer) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
}
