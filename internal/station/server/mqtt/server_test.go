package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/server"
	pkgmqtt "github.com/autopeer-io/multiprog/pkg/mqtt"
	"github.com/autopeer-io/multiprog/pkg/mqtt/topic"
)

type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]pkgmqtt.MessageHandler
	subscribed   chan struct{}
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]pkgmqtt.MessageHandler{}, subscribed: make(chan struct{}, 8)}
}

func (c *fakeClient) Start(context.Context) error { return nil }
func (c *fakeClient) Disconnect(context.Context) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}
func (c *fakeClient) Publish(context.Context, string, int, bool, []byte) error { return nil }
func (c *fakeClient) Subscribe(_ context.Context, t string, _ int, h pkgmqtt.MessageHandler) error {
	c.mu.Lock()
	c.handlers[t] = h
	c.mu.Unlock()
	c.subscribed <- struct{}{}
	return nil
}
func (c *fakeClient) AwaitConnection(context.Context) error { return nil }
func (c *fakeClient) IsConnected() bool                     { return true }

func (c *fakeClient) deliver(t string, payload string) {
	c.mu.Lock()
	h := c.handlers[t]
	c.mu.Unlock()
	if h != nil {
		h(context.Background(), t, []byte(payload))
	}
}

type fakeController struct {
	mu       sync.Mutex
	frames   []link.Frame
	batches  int
	start    bool
	started  bool
	confirms []bool
}

func (c *fakeController) Submit(_ context.Context, m *batch.Manifest, start bool) (*server.Submission, error) {
	tasks, err := m.Tasks()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches++
	c.start = start
	return &server.Submission{BatchID: tasks[0].BatchID, Keys: []string{tasks[0].Key}, Started: start}, nil
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	return nil
}

func (c *fakeController) Abort(confirm bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms = append(c.confirms, confirm)
	if !confirm {
		return orchestrator.ErrConfirmationRequired
	}
	return nil
}

func (c *fakeController) SendFrame(f link.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeController) OpenLink() error                 { return nil }
func (c *fakeController) CloseLink() error                { return nil }
func (c *fakeController) Status() (*server.Status, error) { return &server.Status{}, nil }
func (c *fakeController) ClearStatus() error              { return nil }
func (c *fakeController) Ready() error                    { return nil }

type fakeEvents struct{ ran chan struct{} }

func (e *fakeEvents) Run(ctx context.Context) error {
	close(e.ran)
	<-ctx.Done()
	return nil
}

func TestServerRoutesCommands(t *testing.T) {
	client := newFakeClient()
	ctrl := &fakeController{}
	events := &fakeEvents{ran: make(chan struct{})}
	tb := topic.NewTopicBuilder("multiprog/v1")
	srv := NewServer(client, tb, "st-1", ctrl, events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-events.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("event publisher never started")
	}

	client.deliver(tb.Command("st-1", topic.CommandFrame), `{"kind":"bootloader","n":4}`)
	client.deliver(tb.Command("st-1", topic.CommandFrame), `{"kind":"reset"}`)
	client.deliver(tb.Command("st-1", topic.CommandFrame), `{"kind":"service","n":42}`)
	client.deliver(tb.Command("st-1", topic.CommandBatch), `{"bootloader":"b","firmware":"f","units":[{"serial":"SN1"}],"start":true}`)
	client.deliver(tb.Command("st-1", topic.CommandBatch), `{"units":[]}`)
	client.deliver(tb.Command("st-1", topic.CommandStart), ``)
	client.deliver(tb.Command("st-1", topic.CommandAbort), `{}`)
	client.deliver(tb.Command("st-1", topic.CommandAbort), `{"confirm":true}`)
	client.deliver(tb.Command("st-1", topic.CommandAbort), `not json`)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.frames) != 2 || ctrl.frames[0].Selector() != 4 || ctrl.frames[1].Selector() != link.SelectorReset {
		t.Errorf("frames = %v", ctrl.frames)
	}
	if ctrl.batches != 1 || !ctrl.start {
		t.Errorf("batches = %d start = %v", ctrl.batches, ctrl.start)
	}
	if !ctrl.started {
		t.Error("start command not routed")
	}
	if len(ctrl.confirms) != 2 || ctrl.confirms[0] || !ctrl.confirms[1] {
		t.Errorf("abort confirms = %v", ctrl.confirms)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Error("client not disconnected on exit")
	}
	if len(client.handlers) != 4 {
		t.Errorf("subscribed to %d topics", len(client.handlers))
	}
}

func TestJSONHandler(t *testing.T) {
	var got *AbortCommand
	h := JSONHandler(func(_ context.Context, m *AbortCommand) error {
		got = m
		return nil
	})
	if err := h(context.Background(), nil); err != nil || got == nil || got.Confirm {
		t.Errorf("empty payload: %v %+v", err, got)
	}
	if err := h(context.Background(), []byte("{")); err == nil {
		t.Error("malformed payload accepted")
	}

	boom := errors.New("boom")
	h = JSONHandler(func(context.Context, *AbortCommand) error { return boom })
	if err := h(context.Background(), []byte(`{"confirm":true}`)); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
