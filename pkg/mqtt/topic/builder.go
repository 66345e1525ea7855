package topic

import (
	"fmt"
	"strings"
)

// Constants defining the standard topic segments.
// They are the contract between a station and whatever line controller talks to it.
const (
	// SegmentEvents carries workflow events published by a station.
	// Structure: {root}/{station}/events/{kind}
	SegmentEvents = "events"

	// SegmentCommand carries commands sent to a station.
	// Structure: {root}/{station}/command/{verb}
	SegmentCommand = "command"

	// SegmentStatus carries the retained online/offline marker.
	// Structure: {root}/{station}/status
	SegmentStatus = "status"
)

// Wildcard matches exactly one topic level.
const Wildcard = "+"

// Command verbs accepted by a station.
const (
	CommandFrame = "frame"
	CommandBatch = "batch"
	CommandStart = "start"
	CommandAbort = "abort"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "multiprog/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Event returns the topic a station publishes events of the given kind on.
func (b *TopicBuilder) Event(stationID, kind string) string {
	return b.build(stationID, SegmentEvents, kind)
}

// EventWildcard subscribes to every event of every station.
// Result: {root}/+/events/+
func (b *TopicBuilder) EventWildcard() string {
	return b.build(Wildcard, SegmentEvents, Wildcard)
}

// Command returns the topic a station receives the given command verb on.
func (b *TopicBuilder) Command(stationID, verb string) string {
	return b.build(stationID, SegmentCommand, verb)
}

// Status returns the retained presence topic of a station.
func (b *TopicBuilder) Status(stationID string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, stationID, SegmentStatus)
}

// Verb extracts the last segment of a command topic.
func Verb(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// build constructs {root}/{station}/{segment}/{leaf}.
func (b *TopicBuilder) build(stationID, segment, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, stationID, segment, leaf)
}
