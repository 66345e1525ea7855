package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/model"
	"github.com/autopeer-io/multiprog/pkg/log"
	"github.com/autopeer-io/multiprog/pkg/mqtt/topic"
)

const (
	defaultBacklog = 256
	publishTimeout = 5 * time.Second
)

// Publisher is the part of the MQTT client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error
}

var _ core.Observer = (*MQTTNotifier)(nil)

// Envelope is the JSON body of an event message.
type Envelope struct {
	Kind    model.EventKind `json:"kind"`
	Station string          `json:"station"`
	Event   model.Event     `json:"event"`
}

// MQTTNotifier publishes station events to {root}/{station}/events/{kind}.
// Observe never blocks the orchestrator: events are buffered and published by
// Run, and dropped with a warning when the backlog is full.
type MQTTNotifier struct {
	client    Publisher
	topics    *topic.TopicBuilder
	stationID string
	backlog   chan model.Event
}

// NewMQTTNotifier returns a notifier publishing through client.
func NewMQTTNotifier(client Publisher, topics *topic.TopicBuilder, stationID string) *MQTTNotifier {
	return &MQTTNotifier{
		client:    client,
		topics:    topics,
		stationID: stationID,
		backlog:   make(chan model.Event, defaultBacklog),
	}
}

// Observe queues ev for publishing.
func (n *MQTTNotifier) Observe(ev model.Event) {
	select {
	case n.backlog <- ev:
	default:
		log.Warn("MQTT event backlog full, dropping event", "kind", ev.Kind())
	}
}

// Run marks the station online and publishes queued events until ctx ends.
// Events still queued at that point are flushed with a short deadline and the
// station is marked offline.
func (n *MQTTNotifier) Run(ctx context.Context) error {
	if err := n.publishStatus(ctx, "online"); err != nil {
		log.Warn("Failed to publish station status", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			n.flush()
			return nil
		case ev := <-n.backlog:
			if err := n.Notify(ctx, ev); err != nil {
				log.Error(err, "Failed to publish event", "kind", ev.Kind())
			}
		}
	}
}

func (n *MQTTNotifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case ev := <-n.backlog:
			if err := n.Notify(ctx, ev); err != nil {
				log.Warn("Dropping event on shutdown", "kind", ev.Kind(), "error", err)
			}
		default:
			if err := n.publishStatus(ctx, "offline"); err != nil {
				log.Warn("Failed to publish station status", "error", err)
			}
			return
		}
	}
}

// Notify publishes one event synchronously.
func (n *MQTTNotifier) Notify(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(Envelope{Kind: ev.Kind(), Station: n.stationID, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return n.client.Publish(ctx, n.topics.Event(n.stationID, string(ev.Kind())), 1, false, payload)
}

func (n *MQTTNotifier) publishStatus(ctx context.Context, status string) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return n.client.Publish(ctx, n.topics.Status(n.stationID), 1, true, []byte(status))
}
