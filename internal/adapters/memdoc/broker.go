package memdoc

import (
	"context"
	"strconv"
	"sync"

	"go.trai.ch/docsync/internal/core/domain"
)

// broker fans edge events out to subscribers. Each subscriber has an unbounded backlog so
// a slow consumer never loses events or blocks writers.
type broker struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*subscriber]struct{}
}

type subscriber struct {
	mu      sync.Mutex
	backlog []domain.EdgeEvent
	wake    chan struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscriber]struct{})}
}

func (b *broker) publish(ev domain.EdgeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev.EventID = strconv.FormatUint(b.seq, 10)
	for sub := range b.subs {
		sub.mu.Lock()
		sub.backlog = append(sub.backlog, ev)
		sub.mu.Unlock()
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (b *broker) subscribe(ctx context.Context) <-chan domain.EdgeEvent {
	sub := &subscriber{wake: make(chan struct{}, 1)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	out := make(chan domain.EdgeEvent)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		}()

		for {
			sub.mu.Lock()
			batch := sub.backlog
			sub.backlog = nil
			sub.mu.Unlock()

			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-sub.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
