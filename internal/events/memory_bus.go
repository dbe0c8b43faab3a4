package events

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

const memoryStreamMax = 10000

// MemoryBus is an in-process domain.SignalBus used when Redis is disabled.
// Slow subscribers miss messages rather than block publishers.
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	seq     uint64
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *MemoryBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if over := len(msgs) - memoryStreamMax; over > 0 {
		msgs = msgs[over:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID. "0", "0-0" and ""
// read from the beginning.
func (b *MemoryBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after := streamSeq(lastID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Compile-time interface check.
var _ domain.SignalBus = (*MemoryBus)(nil)
