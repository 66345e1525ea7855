// Package station assembles the provisioning station: the control link, the
// workflow adapters, the orchestrator and the surfaces that drive it.
package station

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/multiprog/internal/pkg/metrics"
	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/notifier"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/log"
)

var _ server.Controller = (*Station)(nil)

// Station implements server.Controller.
type Station struct {
	link        *link.Manager
	linkCfg     link.Config
	openOnStart bool

	orch    *orchestrator.Orchestrator
	board   *notifier.Board
	metrics *metrics.Metrics
	servers *server.Manager
}

// Run opens the link if configured, then runs the orchestrator and every
// enabled server until ctx ends. The link is closed once the orchestrator has
// stopped.
func (s *Station) Run(ctx context.Context) error {
	if s.openOnStart {
		if err := s.OpenLink(); err != nil {
			log.Error(err, "Failed to open the serial link, open it from the control API")
		}
	}
	defer func() {
		if err := s.link.Close(); err != nil {
			log.Error(err, "Failed to close the serial link")
		}
		s.metrics.SetLinkOpen(false)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orchDone := make(chan error, 1)
	go func() { orchDone <- s.orch.Run(ctx) }()

	var err error
	if s.servers.Len() > 0 {
		err = s.servers.Start(ctx)
	} else {
		<-ctx.Done()
	}

	cancel()
	return errors.Join(err, <-orchDone)
}

// Submit implements server.Controller.
func (s *Station) Submit(ctx context.Context, m *batch.Manifest, start bool) (*server.Submission, error) {
	tasks, err := m.Tasks()
	if err != nil {
		return nil, err
	}
	if err := s.orch.EnqueueAll(tasks); err != nil {
		return nil, err
	}

	sub := &server.Submission{BatchID: tasks[0].BatchID}
	for _, t := range tasks {
		sub.Keys = append(sub.Keys, t.Key)
	}
	log.Info("Batch enqueued", "batch", sub.BatchID, "units", len(tasks))

	if start {
		if err := s.orch.Start(); err != nil {
			return sub, err
		}
		sub.Started = true
	}
	return sub, nil
}

func (s *Station) submitAndStart(ctx context.Context, m *batch.Manifest) error {
	_, err := s.Submit(ctx, m, true)
	return err
}

func (s *Station) Start() error {
	return s.orch.Start()
}

func (s *Station) Abort(confirm bool) error {
	return s.orch.Abort(confirm)
}

// SendFrame writes a manual trigger frame.
func (s *Station) SendFrame(f link.Frame) error {
	log.Info("Sending manual frame", "frame", f.String())
	return s.link.Send(f)
}

func (s *Station) OpenLink() error {
	if err := s.link.Open(s.linkCfg); err != nil {
		return err
	}
	s.metrics.SetLinkOpen(true)
	return nil
}

// CloseLink releases the port. It is refused while a unit is provisioning.
func (s *Station) CloseLink() error {
	if s.orch.Busy() {
		return fmt.Errorf("close link: %w", server.ErrBusy)
	}
	if err := s.link.Close(); err != nil {
		return err
	}
	s.metrics.SetLinkOpen(false)
	return nil
}

func (s *Station) Status() (*server.Status, error) {
	q, err := s.orch.Snapshot()
	if err != nil {
		return nil, err
	}
	return &server.Status{
		Link:  server.LinkStatus{Open: s.link.IsOpen(), Port: s.link.PortName()},
		Queue: q,
		Board: s.board.Snapshot(),
	}, nil
}

// ClearStatus resets the board. It is refused while the queue is draining.
func (s *Station) ClearStatus() error {
	if s.orch.Busy() {
		return fmt.Errorf("clear status: %w", server.ErrBusy)
	}
	return s.board.Clear()
}

// Ready reports whether the station can take work.
func (s *Station) Ready() error {
	if _, err := s.orch.Snapshot(); err != nil {
		return err
	}
	return s.requireLink()
}

func (s *Station) requireLink() error {
	if !s.link.IsOpen() {
		return link.ErrClosed
	}
	return nil
}
