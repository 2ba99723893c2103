// Package stream bridges sensor readings published on MQTT topics to the
// prediction pipeline and publishes the predicted colony strength back.
package stream

import (
	"context"
	"strings"
)

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Transport is a publish/subscribe connection.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel of messages whose topic matches filter.
	// The channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, filter string) (<-chan Message, error)
}

// TopicMatches reports whether topic matches an MQTT filter with + and #
// wildcards.
func TopicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// wildcardSegment returns the topic segment matched by the first + of filter.
func wildcardSegment(filter, topic string) string {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "+" && i < len(ts) {
			return ts[i]
		}
	}
	return ""
}
