// Package mqtt bridges the station to a line controller over MQTT: commands
// arrive on {root}/{station}/command/{verb} and events leave through the
// notifier.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/log"
	pkgmqtt "github.com/autopeer-io/multiprog/pkg/mqtt"
	"github.com/autopeer-io/multiprog/pkg/mqtt/topic"
)

const qos = 1

// EventPublisher runs the outbound side once the connection is up.
// It is implemented by notifier.MQTTNotifier.
type EventPublisher interface {
	Run(ctx context.Context) error
}

// HandlerFunc handles one command payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// JSONHandler decodes the payload into T before calling handler. An empty
// payload decodes to the zero value.
func JSONHandler[T any](handler func(ctx context.Context, msg *T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg := new(T)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, msg); err != nil {
				return fmt.Errorf("json unmarshal failed: %w", err)
			}
		}
		return handler(ctx, msg)
	}
}

// FrameCommand asks for a manual trigger frame.
type FrameCommand struct {
	Kind string `json:"kind"`
	// N is the selector of a raw frame or the cycle of a bootloader/service frame.
	N int `json:"n"`
}

// BatchCommand submits a manifest.
type BatchCommand struct {
	batch.Manifest
	Start bool `json:"start"`
}

// AbortCommand aborts the queue.
type AbortCommand struct {
	Confirm bool `json:"confirm"`
}

var _ server.Server = (*Server)(nil)

// Server implements the MQTT ingress layer.
type Server struct {
	client    pkgmqtt.Client
	topics    *topic.TopicBuilder
	stationID string
	ctrl      server.Controller
	events    EventPublisher
}

// NewServer creates a new MQTT server. events may be nil.
func NewServer(client pkgmqtt.Client, builder *topic.TopicBuilder, stationID string, ctrl server.Controller, events EventPublisher) *Server {
	return &Server{
		client:    client,
		topics:    builder,
		stationID: stationID,
		ctrl:      ctrl,
		events:    events,
	}
}

// Start connects to the broker, subscribes to the command topics and, if an
// event publisher is set, runs it until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	// Ensure MQTT disconnects when Start exits
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.client.Disconnect(shutdownCtx)
	}()

	log.Info("Waiting for MQTT connection...")
	if err := s.client.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("MQTT Connected")

	if err := s.subscribe(ctx); err != nil {
		return err
	}

	if s.events != nil {
		return s.events.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (s *Server) handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		topic.CommandFrame: JSONHandler(s.handleFrame),
		topic.CommandBatch: JSONHandler(s.handleBatch),
		topic.CommandStart: func(context.Context, []byte) error { return s.ctrl.Start() },
		topic.CommandAbort: JSONHandler(s.handleAbort),
	}
}

func (s *Server) subscribe(ctx context.Context) error {
	for verb, handler := range s.handlers() {
		fullTopic := s.topics.Command(s.stationID, verb)
		if err := s.client.Subscribe(ctx, fullTopic, qos, func(c context.Context, t string, p []byte) {
			if err := handler(c, p); err != nil {
				log.Error(err, "Command failed", "topic", t)
				return
			}
			log.Info("Command handled", "verb", topic.Verb(t))
		}); err != nil {
			return fmt.Errorf("failed to subscribe to topic: %s, err: %w", fullTopic, err)
		}
	}
	return nil
}

func (s *Server) handleFrame(_ context.Context, cmd *FrameCommand) error {
	f, err := server.BuildFrame(cmd.Kind, cmd.N)
	if err != nil {
		return err
	}
	return s.ctrl.SendFrame(f)
}

func (s *Server) handleBatch(ctx context.Context, cmd *BatchCommand) error {
	sub, err := s.ctrl.Submit(ctx, &cmd.Manifest, cmd.Start)
	if err != nil {
		return err
	}
	log.Info("Batch accepted over MQTT", "batch", sub.BatchID, "units", len(sub.Keys), "started", sub.Started)
	return nil
}

func (s *Server) handleAbort(_ context.Context, cmd *AbortCommand) error {
	return s.ctrl.Abort(cmd.Confirm)
}
