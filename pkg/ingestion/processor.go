package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Defaults applied by NewProcessor.
const (
	DefaultBatchSize       = 100
	DefaultMaxQueueSize    = 10000
	DefaultMaxRetryBatches = 100
	DefaultFlushInterval   = 5 * time.Second
	DefaultFlushTimeout    = 5 * time.Second
)

// Exporter delivers a batch of records to the ingestion sink.
type Exporter interface {
	Export(ctx context.Context, records []span.Record) error
}

// BatchResult describes one delivery of a batch.
type BatchResult struct {
	Spans    int
	Attempts int
	Duration time.Duration
	Success  bool
	// FromRetryQueue is set when the batch had failed in an earlier cycle.
	FromRetryQueue bool
	// Parked is set when the batch was moved to the retry queue.
	Parked bool
	Error  error
}

// Config configures a Processor.
type Config struct {
	Exporter Exporter

	BatchSize       int
	MaxQueueSize    int
	MaxRetryBatches int
	FlushInterval   time.Duration

	// FlushTimeout bounds Close when its context has no deadline.
	FlushTimeout time.Duration

	// Retry governs attempts within one delivery. Nil retries transient
	// failures three times with exponential backoff.
	Retry pkghttp.RetryStrategy

	// Routing is stamped on every inserted record.
	Routing span.Routing

	Backpressure   BackpressureThreshold
	OnBackpressure BackpressureCallback

	// OnBatchFlushed is called after every delivery, successful or not.
	OnBatchFlushed func(BatchResult)

	// ErrorHandler receives delivery errors from both background and
	// explicit flushes.
	ErrorHandler func(error)

	Logger  logging.StructuredLogger
	Metrics metrics.Metrics
}

// Diagnostics reports the state of a Processor so silent data loss can be
// detected.
type Diagnostics struct {
	QueueSize      int
	QueueCapacity  int
	RetryQueueSize int

	// DroppedCount counts spans lost without a delivery attempt succeeding:
	// buffer evictions, retry queue evictions, inserts after Close and spans
	// abandoned at shutdown.
	DroppedCount int64
	// DiscardedCount counts spans in batches the sink rejected permanently.
	DiscardedCount int64

	SentCount     int64
	SentBatches   int64
	FailedBatches int64

	LastError   error
	LastErrorAt time.Time
	LastFlushAt time.Time

	BackpressureLevel BackpressureLevel
	Closed            bool
}

// Processor buffers closed spans and delivers them in batches from a single
// background worker. Insert never blocks on I/O.
type Processor struct {
	exporter       Exporter
	batchSize      int
	maxRetry       int
	interval       time.Duration
	flushTimeout   time.Duration
	retry          pkghttp.RetryStrategy
	routing        span.Routing
	onBatchFlushed func(BatchResult)
	errorHandler   func(error)
	logger         logging.StructuredLogger
	metrics        metrics.Metrics
	monitor        *QueueMonitor
	dropWarn       *rate.Limiter

	// mu guards the buffer, the retry queue and the counters below.
	mu         sync.Mutex
	buf        *Buffer
	bufSeq     uint64
	retryQueue [][]span.Record
	closed     bool
	dropped    int64
	discarded  int64
	sent       int64
	batches    int64
	failed     int64
	lastErr    error
	lastErrAt  time.Time
	lastFlush  time.Time

	// flushMu serializes deliveries so batches leave in FIFO order.
	flushMu sync.Mutex

	signal    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewProcessor starts a Processor. Close must be called to stop its worker.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Exporter == nil {
		return nil, pkgerrors.NewConfigurationError("exporter", "an exporter is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.MaxRetryBatches <= 0 {
		cfg.MaxRetryBatches = DefaultMaxRetryBatches
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = pkghttp.NewExponentialBackoff(3)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		exporter:       cfg.Exporter,
		batchSize:      cfg.BatchSize,
		maxRetry:       cfg.MaxRetryBatches,
		interval:       cfg.FlushInterval,
		flushTimeout:   cfg.FlushTimeout,
		retry:          cfg.Retry,
		routing:        cfg.Routing,
		onBatchFlushed: cfg.OnBatchFlushed,
		errorHandler:   cfg.ErrorHandler,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		dropWarn:       rate.NewLimiter(rate.Every(10*time.Second), 1),
		buf:            NewBuffer(cfg.MaxQueueSize),
		signal:         make(chan struct{}, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	p.monitor = NewQueueMonitor(&QueueMonitorConfig{
		Threshold:      cfg.Backpressure,
		Capacity:       cfg.MaxQueueSize,
		OnBackpressure: cfg.OnBackpressure,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})

	go p.run()
	return p, nil
}

// OnEnd implements span.Processor.
func (p *Processor) OnEnd(rec span.Record) {
	p.Insert(rec)
}

// Insert stamps the routing keys on rec and appends it to the buffer,
// evicting the oldest record when full. After Close the record is counted
// as dropped.
func (p *Processor) Insert(rec span.Record) {
	rec = rec.WithRouting(p.routing)

	p.mu.Lock()
	if p.closed {
		p.dropped++
		p.mu.Unlock()
		p.metrics.IncrementCounter("agentreplay.spans.dropped", 1)
		return
	}
	evicted := p.buf.Push(rec)
	if evicted {
		p.dropped++
	}
	size := p.buf.Len()
	p.bufSeq++
	seq := p.bufSeq
	dropped := p.dropped
	p.mu.Unlock()

	p.metrics.IncrementCounter("agentreplay.spans.inserted", 1)
	p.monitor.Observe(seq, size)

	if evicted {
		p.metrics.IncrementCounter("agentreplay.spans.dropped", 1)
		if p.dropWarn.Allow() {
			p.logger.Warn("span buffer full, dropping oldest span", "capacity", p.buf.Cap(), "dropped_total", dropped)
		}
	}
	if size >= p.batchSize {
		select {
		case p.signal <- struct{}{}:
		default:
		}
	}
}

// run is the background worker. It flushes when a full batch is buffered
// or when the flush interval passes without a flush.
func (p *Processor) run() {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-p.signal:
		case <-timer.C:
		}

		p.backgroundFlush()
		timer.Reset(p.interval)
	}
}

func (p *Processor) backgroundFlush() {
	for {
		if _, err := p.flush(p.ctx); err != nil {
			p.logger.Debug("background flush failed", "error", err)
		}

		p.mu.Lock()
		more := p.buf.Len() >= p.batchSize
		p.mu.Unlock()
		if !more || p.ctx.Err() != nil {
			return
		}
		select {
		case <-p.stop:
			return
		default:
		}
	}
}

// Flush runs one delivery cycle: the oldest parked batch, if any, then up to
// BatchSize records from the buffer. It returns the number of spans
// delivered.
func (p *Processor) Flush(ctx context.Context) (int, error) {
	if p.isClosed() {
		return 0, pkgerrors.ErrClientClosed
	}
	ctx, cancel := p.bind(ctx)
	defer cancel()
	return p.flush(ctx)
}

// FlushAll delivers every buffered record and makes one attempt at each
// parked batch. It stops early when ctx is done.
func (p *Processor) FlushAll(ctx context.Context) (int, error) {
	if p.isClosed() {
		return 0, pkgerrors.ErrClientClosed
	}
	ctx, cancel := p.bind(ctx)
	defer cancel()
	return p.drain(ctx)
}

// bind derives a context that is also cancelled when Close gives up.
func (p *Processor) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *Processor) flush(ctx context.Context) (int, error) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	var (
		sent int
		errs []error
	)
	if batch := p.popRetry(); batch != nil {
		n, err := p.deliver(ctx, batch, true)
		sent += n
		errs = append(errs, err)
	}
	if batch := p.popLive(); batch != nil {
		n, err := p.deliver(ctx, batch, false)
		sent += n
		errs = append(errs, err)
	}
	return sent, errors.Join(errs...)
}

func (p *Processor) drain(ctx context.Context) (int, error) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	var (
		sent int
		errs []error
	)

	p.mu.Lock()
	parked := p.retryQueue
	p.retryQueue = nil
	p.mu.Unlock()

	for i, batch := range parked {
		if ctx.Err() != nil {
			p.requeue(parked[i:])
			break
		}
		n, err := p.deliver(ctx, batch, true)
		sent += n
		errs = append(errs, err)
	}

	for ctx.Err() == nil {
		batch := p.popLive()
		if batch == nil {
			break
		}
		n, err := p.deliver(ctx, batch, false)
		sent += n
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return sent, errors.Join(errs...)
}

func (p *Processor) popLive() []span.Record {
	p.mu.Lock()
	batch := p.buf.PopN(p.batchSize)
	size := p.buf.Len()
	p.bufSeq++
	seq := p.bufSeq
	p.mu.Unlock()

	if batch != nil {
		p.monitor.Observe(seq, size)
	}
	return batch
}

func (p *Processor) popRetry() []span.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.retryQueue) == 0 {
		return nil
	}
	batch := p.retryQueue[0]
	p.retryQueue[0] = nil
	p.retryQueue = p.retryQueue[1:]
	p.metrics.SetGauge("agentreplay.retry_queue.size", float64(len(p.retryQueue)))
	return batch
}

// requeue puts batches back at the front of the retry queue.
func (p *Processor) requeue(batches [][]span.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retryQueue = append(append([][]span.Record(nil), batches...), p.retryQueue...)
}

// park appends batch to the retry queue, evicting the oldest parked batch
// when the queue is full.
func (p *Processor) park(batch []span.Record) {
	p.mu.Lock()
	var evicted int
	if len(p.retryQueue) >= p.maxRetry {
		evicted = len(p.retryQueue[0])
		p.retryQueue[0] = nil
		p.retryQueue = p.retryQueue[1:]
		p.dropped += int64(evicted)
	}
	p.retryQueue = append(p.retryQueue, batch)
	size := len(p.retryQueue)
	p.mu.Unlock()

	p.metrics.SetGauge("agentreplay.retry_queue.size", float64(size))
	if evicted > 0 {
		p.metrics.IncrementCounter("agentreplay.spans.dropped", int64(evicted))
		p.logger.Warn("retry queue full, dropping oldest batch", "spans", evicted)
	}
}

// deliver sends one batch, retrying within the cycle. Transient failures
// park the batch; permanent failures discard it.
func (p *Processor) deliver(ctx context.Context, batch []span.Record, fromRetry bool) (int, error) {
	start := time.Now()
	attempts, err := pkghttp.Retry(ctx, p.retry, func(ctx context.Context) error {
		return p.exporter.Export(ctx, batch)
	})
	elapsed := time.Since(start)
	p.metrics.RecordDuration("agentreplay.batch.duration", elapsed)

	result := BatchResult{
		Spans:          len(batch),
		Attempts:       attempts,
		Duration:       elapsed,
		Success:        err == nil,
		FromRetryQueue: fromRetry,
	}

	if err == nil {
		p.mu.Lock()
		p.sent += int64(len(batch))
		p.batches++
		p.lastFlush = time.Now()
		p.mu.Unlock()

		p.metrics.IncrementCounter("agentreplay.batches.sent", 1)
		p.metrics.IncrementCounter("agentreplay.spans.sent", int64(len(batch)))
		p.notify(result)
		return len(batch), nil
	}

	if ctx.Err() != nil || pkghttp.Classify(err) {
		err = &pkgerrors.TransientDeliveryError{Attempts: attempts, Spans: len(batch), Err: err}
		p.park(batch)
		result.Parked = true
		p.metrics.IncrementCounter("agentreplay.batches.parked", 1)
		p.logger.Warn("batch delivery failed, keeping for retry",
			"spans", len(batch), "attempts", attempts, "error", err)
	} else {
		err = &pkgerrors.PermanentDeliveryError{Spans: len(batch), Err: err}
		p.mu.Lock()
		p.discarded += int64(len(batch))
		p.mu.Unlock()
		p.metrics.IncrementCounter("agentreplay.spans.discarded", int64(len(batch)))
		p.logger.Error("batch rejected by sink, discarding", "spans", len(batch), "error", err)
	}

	p.mu.Lock()
	p.failed++
	p.lastErr = err
	p.lastErrAt = time.Now()
	p.mu.Unlock()
	p.metrics.IncrementCounter("agentreplay.batches.failed", 1)

	result.Error = err
	p.notify(result)
	if p.errorHandler != nil {
		p.errorHandler(err)
	}
	return 0, err
}

func (p *Processor) notify(result BatchResult) {
	if p.onBatchFlushed != nil {
		p.onBatchFlushed(result)
	}
}

func (p *Processor) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops the worker and makes one final attempt to deliver everything
// still buffered or parked, bounded by ctx or, when ctx has no deadline, by
// the flush timeout. Spans still undelivered are abandoned and reported in
// a *errors.ShutdownError. No goroutine started by the Processor outlives
// Close. Later calls return nil.
func (p *Processor) Close(ctx context.Context) error {
	first := false
	p.closeOnce.Do(func() {
		first = true
		p.closeErr = p.close(ctx)
	})
	if !first {
		return nil
	}
	return p.closeErr
}

func (p *Processor) close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.flushTimeout)
		defer cancel()
	}
	// Abort in-flight deliveries, including explicit flushes, once ctx ends.
	stopWatch := context.AfterFunc(ctx, p.cancel)
	defer stopWatch()
	defer p.cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	sent, drainErr := p.drain(p.ctx)

	p.mu.Lock()
	lost := p.buf.Len()
	p.buf.PopN(lost)
	for _, batch := range p.retryQueue {
		lost += len(batch)
	}
	p.retryQueue = nil
	p.dropped += int64(lost)
	p.mu.Unlock()

	p.logger.Debug("processor closed", "sent", sent, "abandoned", lost)
	if lost == 0 {
		return nil
	}

	p.metrics.IncrementCounter("agentreplay.spans.dropped", int64(lost))
	cause := drainErr
	if cause == nil {
		cause = ctx.Err()
	}
	return &pkgerrors.ShutdownError{
		Cause:        cause,
		PendingSpans: lost,
		Message:      "spans abandoned at shutdown",
	}
}

// Stats returns a snapshot of the processor state.
func (p *Processor) Stats() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Diagnostics{
		QueueSize:         p.buf.Len(),
		QueueCapacity:     p.buf.Cap(),
		RetryQueueSize:    len(p.retryQueue),
		DroppedCount:      p.dropped,
		DiscardedCount:    p.discarded,
		SentCount:         p.sent,
		SentBatches:       p.batches,
		FailedBatches:     p.failed,
		LastError:         p.lastErr,
		LastErrorAt:       p.lastErrAt,
		LastFlushAt:       p.lastFlush,
		BackpressureLevel: p.monitor.Level(),
		Closed:            p.closed,
	}
}

// Monitor returns the backpressure monitor.
func (p *Processor) Monitor() *QueueMonitor {
	return p.monitor
}
