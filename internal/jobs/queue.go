// Package jobs runs image generation in the background. The upload
// handler persists a pending record, enqueues a task and returns; exactly
// one worker transitions the record to its terminal state.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	img "github.com/DaanH/buildings-visualizer/internal/providers/image"
)

// Task is one queued generation request. The record with RecordID must
// already exist in pending state.
type Task struct {
	RecordID string
	Prompt   string
	Image    []byte
	Mask     []byte
}

// OutcomeRecorder is notified once per task when it reaches a terminal
// state. The stats recorder implements it; tests stub it.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, status domain.Status)
}

// Options tunes the queue.
type Options struct {
	Workers    int
	Buffer     int
	JobTimeout time.Duration
	Outcomes   OutcomeRecorder
	Registerer prometheus.Registerer
}

// Queue is a bounded in-process work queue with an explicit lifecycle:
// Start spawns the workers, Stop drains outstanding tasks.
type Queue struct {
	store     domain.Store
	generator img.Generator
	logger    zerolog.Logger

	tasks    chan Task
	wg       sync.WaitGroup
	stopOnce sync.Once

	timeout  time.Duration
	workers  int
	outcomes OutcomeRecorder

	processed *prometheus.CounterVec
	duration  prometheus.Histogram
	depth     prometheus.Gauge
}

// NewQueue constructs a queue writing results through store.
func NewQueue(store domain.Store, generator img.Generator, logger zerolog.Logger, opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 2
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	q := &Queue{
		store:     store,
		generator: generator,
		logger:    logger,
		tasks:     make(chan Task, buffer),
		timeout:   timeout,
		workers:   workers,
		outcomes:  opts.Outcomes,
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visualizer_jobs_processed_total",
			Help: "Generation jobs finished, labelled by terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visualizer_job_duration_seconds",
			Help:    "Wall time spent generating one image.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visualizer_queue_depth",
			Help: "Tasks waiting in the queue.",
		}),
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(q.processed, q.duration, q.depth)
	return q
}

// Start launches the worker goroutines. ctx bounds the in-flight provider
// calls; cancelling it aborts running jobs but workers keep draining until
// Stop closes the queue.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			log := q.logger.With().Int("worker", worker).Logger()
			for task := range q.tasks {
				q.depth.Dec()
				q.process(ctx, log, task)
			}
		}(i)
	}
	q.logger.Info().Int("workers", q.workers).Msg("job queue started")
}

// Enqueue hands a task to the workers, failing fast with ErrQueueFull
// instead of blocking the request handler.
func (q *Queue) Enqueue(task Task) error {
	select {
	case q.tasks <- task:
		q.depth.Inc()
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.tasks) })
	q.wg.Wait()
	q.logger.Info().Msg("job queue stopped")
}

func (q *Queue) process(ctx context.Context, log zerolog.Logger, task Task) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	log.Info().Str("image_id", task.RecordID).Msg("generation started")

	result, err := q.generator.Generate(jobCtx, img.EditRequest{
		Prompt: task.Prompt,
		Image:  task.Image,
		Mask:   task.Mask,
	})

	status := domain.StatusCompleted
	patch := domain.RecordPatch{}
	if err != nil {
		status = domain.StatusError
		patch.ErrorMessage = domain.String(terminalMessage(err))
		log.Error().Err(err).Str("image_id", task.RecordID).Msg("generation failed")
	} else {
		patch.Data = domain.String(result.DataURL)
		log.Info().Str("image_id", task.RecordID).Dur("took", time.Since(start)).Msg("generation completed")
	}
	patch.Status = domain.StatusOf(status)

	// The write must survive request cancellation, so it gets its own
	// deadline independent of jobCtx.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()
	if err := q.store.Put(writeCtx, task.RecordID, patch); err != nil {
		log.Error().Err(err).Str("image_id", task.RecordID).Msg("persist result failed")
	}

	q.processed.WithLabelValues(string(status)).Inc()
	q.duration.Observe(time.Since(start).Seconds())
	if q.outcomes != nil {
		q.outcomes.RecordOutcome(writeCtx, status)
	}
}

// terminalMessage maps an error to the user-visible errorMessage. Provider
// messages are preserved verbatim; a missing credential gets an explicit
// configuration message instead of the bare absence the source used to
// swallow.
func terminalMessage(err error) string {
	var provErr *domain.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Error()
	}
	if errors.Is(err, domain.ErrMissingAPIKey) {
		return "image generation is not configured: missing API credential"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "image generation timed out"
	}
	return "image generation failed"
}
