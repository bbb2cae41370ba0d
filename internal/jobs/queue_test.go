package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	img "github.com/DaanH/buildings-visualizer/internal/providers/image"
	"github.com/DaanH/buildings-visualizer/internal/store/storetest"
)

type stubGenerator struct {
	mu      sync.Mutex
	result  *img.Result
	err     error
	release chan struct{}
	calls   int
	lastReq img.EditRequest
}

func (s *stubGenerator) Generate(ctx context.Context, req img.EditRequest) (*img.Result, error) {
	s.mu.Lock()
	s.calls++
	s.lastReq = req
	release := s.release
	s.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubOutcomes struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (s *stubOutcomes) RecordOutcome(ctx context.Context, status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func newTestQueue(t *testing.T, store domain.Store, gen img.Generator, opts Options) *Queue {
	t.Helper()
	opts.Registerer = prometheus.NewRegistry()
	q := NewQueue(store, gen, zerolog.Nop(), opts)
	return q
}

func pendingRecord(t *testing.T, store domain.Store, id string) {
	t.Helper()
	err := store.Put(context.Background(), id, domain.RecordPatch{
		Status: domain.StatusOf(domain.StatusPending),
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func waitForTerminal(t *testing.T, store domain.Store, id string) *domain.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("record never reached a terminal state")
	return nil
}

func TestQueueCompletesRecord(t *testing.T) {
	store := storetest.NewMemStore()
	gen := &stubGenerator{result: &img.Result{DataURL: "data:image/png;base64,ZWRpdGVk"}}
	outcomes := &stubOutcomes{}
	q := newTestQueue(t, store, gen, Options{Workers: 1, Outcomes: outcomes})
	q.Start(context.Background())
	defer q.Stop()

	pendingRecord(t, store, "job-ok")
	if err := q.Enqueue(Task{RecordID: "job-ok", Prompt: "teal walls", Image: []byte("src")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := waitForTerminal(t, store, "job-ok")
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("status: got %s, want completed (%s)", rec.Status, rec.ErrorMessage)
	}
	if rec.Data != "data:image/png;base64,ZWRpdGVk" {
		t.Fatalf("data: got %q", rec.Data)
	}
	if gen.lastReq.Prompt != "teal walls" {
		t.Fatalf("prompt not forwarded: %q", gen.lastReq.Prompt)
	}

	outcomes.mu.Lock()
	defer outcomes.mu.Unlock()
	if len(outcomes.statuses) != 1 || outcomes.statuses[0] != domain.StatusCompleted {
		t.Fatalf("outcomes: %v", outcomes.statuses)
	}
}

func TestQueuePreservesProviderMessage(t *testing.T) {
	store := storetest.NewMemStore()
	gen := &stubGenerator{err: &domain.ProviderError{Message: "content policy violation"}}
	q := newTestQueue(t, store, gen, Options{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	pendingRecord(t, store, "job-fail")
	if err := q.Enqueue(Task{RecordID: "job-fail", Prompt: "p", Image: []byte("src")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := waitForTerminal(t, store, "job-fail")
	if rec.Status != domain.StatusError {
		t.Fatalf("status: got %s, want error", rec.Status)
	}
	if rec.ErrorMessage != "content policy violation" {
		t.Fatalf("provider message not preserved verbatim: %q", rec.ErrorMessage)
	}
}

func TestQueueReportsMissingCredentialDistinctly(t *testing.T) {
	store := storetest.NewMemStore()
	gen := &stubGenerator{err: domain.ErrMissingAPIKey}
	q := newTestQueue(t, store, gen, Options{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	pendingRecord(t, store, "job-nokey")
	if err := q.Enqueue(Task{RecordID: "job-nokey", Prompt: "p", Image: []byte("src")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := waitForTerminal(t, store, "job-nokey")
	if rec.Status != domain.StatusError {
		t.Fatalf("status: got %s, want error", rec.Status)
	}
	if rec.ErrorMessage != "image generation is not configured: missing API credential" {
		t.Fatalf("configuration error message: %q", rec.ErrorMessage)
	}
}

func TestQueueTimesOutSlowGeneration(t *testing.T) {
	store := storetest.NewMemStore()
	// No release: the generator blocks until the job deadline cancels it.
	gen := &stubGenerator{release: make(chan struct{})}
	q := newTestQueue(t, store, gen, Options{Workers: 1, JobTimeout: 20 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	pendingRecord(t, store, "job-slow")
	if err := q.Enqueue(Task{RecordID: "job-slow", Prompt: "p", Image: []byte("src")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := waitForTerminal(t, store, "job-slow")
	if rec.Status != domain.StatusError {
		t.Fatalf("status: got %s, want error", rec.Status)
	}
	if rec.ErrorMessage != "image generation timed out" {
		t.Fatalf("timeout message: %q", rec.ErrorMessage)
	}
}

func TestQueueFullFailsFast(t *testing.T) {
	store := storetest.NewMemStore()
	gen := &stubGenerator{release: make(chan struct{}), result: &img.Result{DataURL: "data:image/png;base64,eA=="}}
	q := newTestQueue(t, store, gen, Options{Workers: 1, Buffer: 1})
	q.Start(context.Background())

	pendingRecord(t, store, "busy-1")
	pendingRecord(t, store, "busy-2")

	// First task occupies the worker, second fills the buffer.
	if err := q.Enqueue(Task{RecordID: "busy-1", Prompt: "p", Image: []byte("x")}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err = q.Enqueue(Task{RecordID: "busy-2", Prompt: "p", Image: []byte("x")}); err != nil {
			break
		}
	}
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}

	close(gen.release)
	q.Stop()
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	store := storetest.NewMemStore()
	gen := &stubGenerator{result: &img.Result{DataURL: "data:image/png;base64,eA=="}}
	q := newTestQueue(t, store, gen, Options{Workers: 2, Buffer: 8})
	q.Start(context.Background())

	for _, id := range []string{"drain-1", "drain-2", "drain-3"} {
		pendingRecord(t, store, id)
		if err := q.Enqueue(Task{RecordID: id, Prompt: "p", Image: []byte("x")}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	q.Stop()

	for _, id := range []string{"drain-1", "drain-2", "drain-3"} {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if rec.Status != domain.StatusCompleted {
			t.Fatalf("%s not drained: %s", id, rec.Status)
		}
	}
}
