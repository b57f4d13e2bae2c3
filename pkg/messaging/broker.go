package messaging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrSubscriberFull = errors.New("subscriber channel is full")

// SimpleBroker implements Broker with a map of subscriber ID to channel.
// Sends never block: a full subscriber misses the message.
type SimpleBroker struct {
	subscribers map[string]chan<- Message
	dropped     atomic.Uint64
	mu          sync.RWMutex
}

// NewBroker creates a new message broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[string]chan<- Message),
	}
}

// Publish delivers msg to its recipients, or to every subscriber except the
// sender when To is empty. Recipients that are not subscribed are skipped.
// The returned error lists every recipient whose channel was full.
func (b *SimpleBroker) Publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	recipients := msg.To
	if len(recipients) == 0 {
		for id := range b.subscribers {
			if id != msg.From {
				recipients = append(recipients, id)
			}
		}
	}

	var errs []error
	for _, id := range recipients {
		ch, ok := b.subscribers[id]
		if !ok {
			continue
		}
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
			errs = append(errs, fmt.Errorf("%w: %s", ErrSubscriberFull, id))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers ch under id
func (b *SimpleBroker) Subscribe(id string, ch chan<- Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; exists {
		return fmt.Errorf("%s is already subscribed", id)
	}
	b.subscribers[id] = ch
	return nil
}

// Unsubscribe removes id's subscription
func (b *SimpleBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return fmt.Errorf("%s is not subscribed", id)
	}
	delete(b.subscribers, id)
	return nil
}

// Dropped returns how many deliveries were skipped because of full channels
func (b *SimpleBroker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string]chan<- Message)
}
