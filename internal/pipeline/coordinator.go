// Package pipeline partitions input files across a bounded pool of
// workers and drives each worker through its lifecycle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/withObsrvr/obsrvr-csv-converter/internal/converter"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/logging"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/metrics"
	"github.com/withObsrvr/obsrvr-csv-converter/internal/source"
)

// ConvertFunc converts a single file.
type ConvertFunc func(ctx context.Context, in source.InputFile) (converter.Result, error)

// Failure describes a file that produced no result.
type Failure struct {
	File   string
	Worker int // -1 when the file was never dispatched
	Kind   converter.Kind
	Err    error
}

// Sink receives per-file outcomes. Calls are made from a single goroutine.
type Sink interface {
	Record(converter.Result)
	RecordFailure(Failure)
}

// Summary describes a finished run.
type Summary struct {
	Workers   int
	Files     int
	Converted int
	Failed    int
	Skipped   int           // files never attempted because their worker faulted
	States    map[int]State // final state per worker
}

// Coordinator owns the worker pool. Each Run dispatches one batch; output
// names claimed by earlier batches stay claimed for the Coordinator's
// lifetime.
type Coordinator struct {
	convert     ConvertFunc
	parallelism int
	observer    Observer
	now         func() time.Time
	log         *slog.Logger

	mu      sync.Mutex
	claimed map[string]string // OutputBase -> file ID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithParallelism caps the number of workers. Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.parallelism = n
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithClock overrides the clock used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. Parallelism defaults to GOMAXPROCS.
func New(convert ConvertFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		convert:     convert,
		parallelism: runtime.GOMAXPROCS(0),
		now:         time.Now,
		log:         logging.Component("coordinator"),
		claimed:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Parallelism returns the worker cap.
func (c *Coordinator) Parallelism() int {
	return c.parallelism
}

type msgKind int

const (
	msgStarted msgKind = iota
	msgResult
	msgFailure
	msgDrained
	msgFault
)

// message is what a worker sends upward. Values are copied, never shared.
type message struct {
	kind      msgKind
	worker    int
	result    converter.Result
	failure   Failure
	remaining []source.InputFile
}

type worker struct {
	lifecycle
	inbox chan []source.InputFile
	done  chan struct{}
}

// Run converts files with min(len(files), parallelism) workers and blocks
// until every worker is released. A file whose output name is already
// claimed by a different file is failed without being dispatched.
// Cancellation of ctx is not propagated: once dispatched, a partition runs
// to completion.
func (c *Coordinator) Run(ctx context.Context, files []source.InputFile, sink Sink) Summary {
	ctx = logging.EnsureCorrelationID(context.WithoutCancel(ctx))
	log := logging.FromContext(ctx, c.log)

	sum := Summary{Files: len(files), States: make(map[int]State)}
	files, collisions := c.claim(files)
	for _, f := range collisions {
		sum.Failed++
		c.fail(log, f, sink)
	}

	n := min(len(files), c.parallelism)
	if n == 0 {
		log.Info("no input files, nothing to dispatch", "collisions", len(collisions))
		return sum
	}

	partitions := RoundRobin(files, n)
	msgs := make(chan message, n)
	workers := make(map[int]*worker, n)
	m := metrics.Get()

	for id, part := range partitions {
		if len(part) == 0 {
			continue
		}
		w := &worker{
			lifecycle: lifecycle{worker: id, observer: c.observer, now: c.now},
			inbox:     make(chan []source.InputFile, 1),
			done:      make(chan struct{}),
		}
		workers[id] = w
		c.advance(log, w, StateSpawned)
		if m != nil {
			m.WorkerSpawned()
		}
		go c.work(ctx, id, w.inbox, msgs, w.done)

		w.inbox <- part
		close(w.inbox)
		c.advance(log, w, StateDispatched)
	}
	sum.Workers = len(workers)
	log.Info("workers dispatched", "workers", sum.Workers, "files", sum.Files)

	for active := len(workers); active > 0; {
		msg := <-msgs
		w := workers[msg.worker]

		switch msg.kind {
		case msgStarted:
			c.advance(log, w, StateRunning)

		case msgResult:
			sum.Converted++
			if m != nil {
				m.ObserveConverted(msg.result.Records, msg.result.Bytes, msg.result.FileDuration.Seconds())
			}
			sink.Record(msg.result)

		case msgFailure:
			sum.Failed++
			c.fail(log, msg.failure, sink)

		case msgDrained:
			c.advance(log, w, StateCompleted)
			c.release(log, w)
			active--

		case msgFault:
			sum.Failed++
			c.fail(log, msg.failure, sink)
			sum.Skipped += len(msg.remaining)
			for _, in := range msg.remaining {
				log.Warn("file not processed after worker fault", "worker_id", msg.worker, "file", in.ID)
			}
			if m != nil && len(msg.remaining) > 0 {
				m.AddFilesSkipped(len(msg.remaining))
			}
			c.advance(log, w, StateFailed)
			c.release(log, w)
			active--
		}
	}

	for id, w := range workers {
		sum.States[id] = w.state
	}
	log.Info("all workers released",
		"converted", sum.Converted,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
	)
	return sum
}

// claim reserves each file's output name. The first file to claim a name
// keeps it; a later file with the same name, in this batch or an earlier
// one, is returned as a failure. A file may reclaim its own name.
func (c *Coordinator) claim(files []source.InputFile) ([]source.InputFile, []Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]source.InputFile, 0, len(files))
	var collisions []Failure
	for _, in := range files {
		owner, ok := c.claimed[in.OutputBase]
		if ok && owner != in.ID {
			collisions = append(collisions, Failure{
				File:   in.ID,
				Worker: -1,
				Kind:   converter.KindIO,
				Err: &converter.Error{
					Kind: converter.KindIO,
					File: in.ID,
					Op:   "output collision",
					Err:  fmt.Errorf("output name %q already used by %s", in.OutputBase, owner),
				},
			})
			continue
		}
		c.claimed[in.OutputBase] = in.ID
		kept = append(kept, in)
	}
	return kept, collisions
}

func (c *Coordinator) fail(log *slog.Logger, f Failure, sink Sink) {
	log.Error("file conversion failed",
		"worker_id", f.Worker,
		"file", f.File,
		"kind", f.Kind.String(),
		"error", f.Err,
	)
	if m := metrics.Get(); m != nil {
		m.IncFilesFailed(f.Kind.String())
	}
	sink.RecordFailure(f)
}

// release waits for the worker goroutine to exit and tears it down.
func (c *Coordinator) release(log *slog.Logger, w *worker) {
	<-w.done
	c.advance(log, w, StateReleased)
	if m := metrics.Get(); m != nil {
		m.WorkerReleased()
	}
}

func (c *Coordinator) advance(log *slog.Logger, w *worker, to State) {
	if err := w.advance(to); err != nil {
		log.Error("worker lifecycle violation", "error", err)
	}
}

// work converts a partition sequentially. A panic inside the converter
// ends the worker; the files it had not reached are reported, not
// redistributed.
func (c *Coordinator) work(ctx context.Context, id int, inbox <-chan []source.InputFile, out chan<- message, done chan<- struct{}) {
	defer close(done)

	part := <-inbox
	out <- message{kind: msgStarted, worker: id}

	current := -1
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		f := Failure{Worker: id, Kind: converter.KindWorkerFault}
		var remaining []source.InputFile
		if current >= 0 && current < len(part) {
			f.File = part[current].ID
			remaining = part[current+1:]
		}
		f.Err = &converter.Error{
			Kind: converter.KindWorkerFault,
			File: f.File,
			Op:   "worker",
			Err:  fmt.Errorf("panic: %v", r),
		}
		out <- message{kind: msgFault, worker: id, failure: f, remaining: remaining}
	}()

	log := logging.FromContext(ctx, logging.WorkerLogger(id))
	log.Debug("partition received", "files", len(part))

	for i, in := range part {
		current = i
		res, err := c.convert(ctx, in)
		if err != nil {
			kind := converter.KindOf(err)
			if kind == 0 {
				kind = converter.KindIO
			}
			out <- message{kind: msgFailure, worker: id, failure: Failure{
				File:   in.ID,
				Worker: id,
				Kind:   kind,
				Err:    err,
			}}
			continue
		}
		logging.FromContext(ctx, logging.FileLogger(id, in.ID)).Debug("file converted", "records", res.Records)
		out <- message{kind: msgResult, worker: id, result: res}
	}

	out <- message{kind: msgDrained, worker: id}
}
