package stream

import (
	"context"
	"sync"
)

type subscription struct {
	filter string
	ch     chan Message
}

// InMemoryBus はインメモリでpublish/subscribeを実現します。
// goroutine-safeです。
type InMemoryBus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	bufSize int
}

// NewInMemoryBus は新しいInMemoryBusを生成します。
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	return &InMemoryBus{
		subs:    make(map[*subscription]struct{}),
		bufSize: bufferSize,
	}
}

// Publishはトピックにマッチする全てのsubscriberにメッセージを送信します。
func (b *InMemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}
	for sub := range b.subs {
		if !TopicMatches(sub.filter, topic) {
			continue
		}
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// subscriberが詰まっている場合はブロックしない
		}
	}
	return nil
}

// Subscribeはフィルタにマッチするメッセージを受け取るためのチャネルを返します。
// contextがキャンセルされるとチャネルは閉じられます。
func (b *InMemoryBus) Subscribe(ctx context.Context, filter string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{filter: filter, ch: make(chan Message, b.bufSize)}
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, sub)
		close(sub.ch)
	}()

	return sub.ch, nil
}
