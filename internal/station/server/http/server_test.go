package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/notifier"
	"github.com/autopeer-io/multiprog/internal/station/server"
	"github.com/autopeer-io/multiprog/pkg/options"
)

type fakeController struct {
	linkOpen  bool
	inFlight  bool
	queued    int
	started   bool
	aborted   bool
	frames    []link.Frame
	manifests []*batch.Manifest
	clearErr  error
}

func (c *fakeController) Submit(_ context.Context, m *batch.Manifest, start bool) (*server.Submission, error) {
	tasks, err := m.Tasks()
	if err != nil {
		return nil, err
	}
	if !c.linkOpen {
		return nil, link.ErrClosed
	}
	c.manifests = append(c.manifests, m)
	c.queued += len(tasks)
	sub := &server.Submission{BatchID: tasks[0].BatchID, Started: start}
	for _, t := range tasks {
		sub.Keys = append(sub.Keys, t.Key)
	}
	return sub, nil
}

func (c *fakeController) Start() error {
	if c.queued == 0 {
		return orchestrator.ErrQueueEmpty
	}
	c.started = true
	return nil
}

func (c *fakeController) Abort(confirm bool) error {
	if c.inFlight && !confirm {
		return orchestrator.ErrConfirmationRequired
	}
	c.aborted = true
	return nil
}

func (c *fakeController) SendFrame(f link.Frame) error {
	if !c.linkOpen {
		return &link.Error{Op: "write", Err: link.ErrClosed}
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeController) OpenLink() error {
	if c.linkOpen {
		return &link.Error{Op: "open", Port: "/dev/ttyUSB0", Err: link.ErrAlreadyOpen}
	}
	c.linkOpen = true
	return nil
}

func (c *fakeController) CloseLink() error {
	c.linkOpen = false
	return nil
}

func (c *fakeController) Status() (*server.Status, error) {
	return &server.Status{
		Link:  server.LinkStatus{Open: c.linkOpen, Port: "/dev/ttyUSB0"},
		Board: notifier.NewBoard().Snapshot(),
	}, nil
}

func (c *fakeController) ClearStatus() error { return c.clearErr }

func (c *fakeController) Ready() error {
	if !c.linkOpen {
		return errors.New("serial link is not open")
	}
	return nil
}

func newTestServer(ctrl *fakeController) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "multiprog_link_open 1\n")
	})
	return NewServer(options.NewHttpOptions(), ctrl, metrics).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const manifestJSON = `{"bootloader":"/img/boot.bin","firmware":"/img/app.acfr","units":[{"serial":"SN12345"},{"serial":""},{"serial":"SN12346"}]}`

func TestSubmitBatch(t *testing.T) {
	ctrl := &fakeController{linkOpen: true}
	h := newTestServer(ctrl)

	rec := do(t, h, http.MethodPost, "/api/v1/batches?start=true", manifestJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	var sub server.Submission
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatal(err)
	}
	if !sub.Started || strings.Join(sub.Keys, ",") != "serial_1,serial_3" || sub.BatchID == "" {
		t.Errorf("submission = %+v", sub)
	}
}

func TestSubmitBatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		linkOpen bool
		body     string
		want     int
	}{
		{"malformed", true, `{"bootloader":`, http.StatusBadRequest},
		{"unknown field", true, `{"bootlaoder":"x"}`, http.StatusBadRequest},
		{"invalid manifest", true, `{"bootloader":"b","units":[{"serial":"A"}]}`, http.StatusBadRequest},
		{"link closed", false, manifestJSON, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeController{linkOpen: tt.linkOpen})
			rec := do(t, h, http.MethodPost, "/api/v1/batches", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestStartAndAbort(t *testing.T) {
	ctrl := &fakeController{linkOpen: true}
	h := newTestServer(ctrl)

	if rec := do(t, h, http.MethodPost, "/api/v1/start", ""); rec.Code != http.StatusConflict {
		t.Errorf("start on empty queue = %d", rec.Code)
	}

	ctrl.queued = 1
	if rec := do(t, h, http.MethodPost, "/api/v1/start", ""); rec.Code != http.StatusAccepted || !ctrl.started {
		t.Errorf("start = %d", rec.Code)
	}

	ctrl.inFlight = true
	rec := do(t, h, http.MethodPost, "/api/v1/abort", "")
	if rec.Code != http.StatusConflict || ctrl.aborted {
		t.Errorf("unconfirmed abort = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "confirmed") {
		t.Errorf("body = %s", rec.Body)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/abort?confirm=true", ""); rec.Code != http.StatusAccepted || !ctrl.aborted {
		t.Errorf("confirmed abort = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/abort?confirm=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad confirm = %d", rec.Code)
	}
}

func TestFrames(t *testing.T) {
	ctrl := &fakeController{linkOpen: true}
	h := newTestServer(ctrl)

	for _, target := range []string{
		"/api/v1/frames/bootloader/3",
		"/api/v1/frames/service/3",
		"/api/v1/frames/raw/0x2A",
		"/api/v1/frames/reset",
	} {
		if rec := do(t, h, http.MethodPost, target, ""); rec.Code != http.StatusOK {
			t.Errorf("%s = %d %s", target, rec.Code, rec.Body)
		}
	}

	want := []byte{3, 11, 0x2A, 0xFF}
	if len(ctrl.frames) != len(want) {
		t.Fatalf("sent %d frames", len(ctrl.frames))
	}
	for i, sel := range want {
		if ctrl.frames[i].Selector() != sel {
			t.Errorf("frame %d = %s", i, ctrl.frames[i])
		}
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/frames/bootloader/9", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("cycle 9 = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/frames/raw/xyz", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad selector = %d", rec.Code)
	}

	ctrl.linkOpen = false
	if rec := do(t, h, http.MethodPost, "/api/v1/frames/reset", ""); rec.Code != http.StatusConflict {
		t.Errorf("frame on closed link = %d", rec.Code)
	}
}

func TestLinkAndStatus(t *testing.T) {
	ctrl := &fakeController{}
	h := newTestServer(ctrl)

	if rec := do(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with closed link = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/link", ""); rec.Code != http.StatusNoContent {
		t.Errorf("open = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/link", ""); rec.Code != http.StatusConflict {
		t.Errorf("second open = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/status", "")
	var st server.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("status body: %v", err)
	}
	if !st.Link.Open || len(st.Board.Rows) != link.MaxCycle {
		t.Errorf("status = %+v", st)
	}

	ctrl.clearErr = notifier.ErrBoardBusy
	if rec := do(t, h, http.MethodDelete, "/api/v1/status", ""); rec.Code != http.StatusConflict {
		t.Errorf("clear while busy = %d", rec.Code)
	}
	ctrl.clearErr = nil
	if rec := do(t, h, http.MethodDelete, "/api/v1/status", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/link", ""); rec.Code != http.StatusNoContent || ctrl.linkOpen {
		t.Errorf("close = %d", rec.Code)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	h := newTestServer(&fakeController{linkOpen: true})

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", ""); !strings.Contains(rec.Body.String(), "multiprog_link_open") {
		t.Errorf("metrics = %q", rec.Body)
	}
}

func TestAPIMethodMismatch(t *testing.T) {
	h := newTestServer(&fakeController{linkOpen: true})

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/start"},
		{http.MethodGet, "/api/v1/batches"},
		{http.MethodPut, "/api/v1/link"},
		{http.MethodPost, "/api/v1/status"},
		{http.MethodGet, "/api/v1/frames/bootloader/3"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, ""); rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s = %d, want 405", tt.method, tt.path, rec.Code)
			}
		})
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", rec.Code)
	}
}
