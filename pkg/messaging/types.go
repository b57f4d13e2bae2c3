package messaging

import (
	"time"
)

// Kind labels what a message carries
type Kind string

const (
	KindEpisode Kind = "episode" // one benchmark episode finished
	KindSummary Kind = "summary" // a benchmark run finished
)

// Message is an event published on the result bus
type Message struct {
	Kind      Kind
	From      string    // publisher ID, usually a run ID
	To        []string  // subscriber IDs (empty means broadcast)
	Content   any       // EpisodeResult or Summary
	Timestamp time.Time // When the message was published
}

// Broker routes messages from experiments to subscribers such as trace
// writers, the results index and stream clients
type Broker interface {
	// Publish sends a message to specified recipients
	Publish(msg Message) error
	// Subscribe registers a subscriber to receive messages
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}
