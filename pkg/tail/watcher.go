// Package tail follows a growing log file by polling, in the manner of
// `tail -F`. Filesystem change notifications are deliberately not used: they
// behave inconsistently for append-only files and rename/rotate sequences
// across platforms and network filesystems.
package tail

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval    = time.Millisecond * 250
	DefaultFailureRetry    = time.Millisecond * 50
	DefaultMaxPollFailures = 20
	DefaultChunkSize       = 64 * 1024
	// DefaultFlushTimeout bounds how long the final poll after Quit waits
	// for a consumer that stopped reading.
	DefaultFlushTimeout = time.Second * 2
)

var (
	ErrEmptyPath       = errors.New("path is empty")
	ErrTooManyFailures = errors.New("too many poll failures")
	ErrAlreadyStarted  = errors.New("watcher already started")
	ErrQuit            = errors.New("watcher has quit")
)

type Config struct {
	Path            string
	PollInterval    time.Duration
	FailureRetry    time.Duration
	MaxPollFailures int
	ChunkSize       int
	FlushTimeout    time.Duration
	// FromStart replays the file from byte 0 instead of starting at its
	// current end.
	FromStart bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.FailureRetry <= 0 {
		c.FailureRetry = DefaultFailureRetry
	}

	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = DefaultMaxPollFailures
	}

	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}

	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}

	return c
}

type fileID struct {
	volume uint64
	index  uint64
}

type fileStat struct {
	id   fileID
	size int64
}

// Watcher streams bytes appended to a single path. The file handle, offset
// and identity are only touched by the watcher's own goroutine.
type Watcher struct {
	cfg    Config
	logger *zap.Logger
	events chan Event

	file        *os.File
	id          fileID
	known       bool
	seenMissing bool
	failures    int
	finalizing  bool
	offset      atomic.Int64
	pauses      atomic.Int64

	mu       sync.Mutex
	started  bool
	quitting bool
	quitErr  error
	err      error
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, logger *zap.Logger) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	cfg = cfg.withDefaults()

	return &Watcher{
		cfg:    cfg,
		logger: logger.Named("tail").With(zap.String("path", cfg.Path)),
		events: make(chan Event),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Events delivers data and notices in file order. It is unbuffered: a
// consumer that stops receiving pauses polling until it receives again. The
// channel is closed once the watcher has finished.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Done is closed once the watcher has finished and Err is valid.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err is the terminal error: the one passed to Quit, or ErrTooManyFailures.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Offset is the offset of the next byte to be delivered.
func (w *Watcher) Offset() int64 {
	return w.offset.Load()
}

// Pauses counts how many times delivery blocked on the consumer.
func (w *Watcher) Pauses() int64 {
	return w.pauses.Load()
}

// Start opens the file, polls once and keeps polling until Quit, ctx
// cancellation or too many consecutive failures. A missing file is not an
// error here; it is retried like any other failed poll.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.quitting {
		w.mu.Unlock()

		return ErrQuit
	}

	if w.started {
		w.mu.Unlock()

		return ErrAlreadyStarted
	}

	w.started = true
	w.mu.Unlock()

	w.baseline()

	go w.run(ctx)

	return nil
}

// baseline records the identity and starting offset before the poll loop
// runs, so bytes appended once Start has returned are always delivered.
func (w *Watcher) baseline() {
	stat, errStat := statFile(w.cfg.Path)
	if errStat == nil {
		errStat = w.ensureOpen()
	}

	if errStat != nil {
		w.logger.Debug("File not available yet", zap.Error(errStat))
		w.seenMissing = true

		return
	}

	w.id = stat.id
	w.known = true

	if !w.cfg.FromStart {
		w.offset.Store(stat.size)
	}
}

// Quit stops polling. One last poll flushes any trailing bytes before the
// handle is closed and Events is closed. A non nil err is reported by Err.
// Quit does not wait; use Done. Safe to call more than once, from any
// goroutine, including the one consuming Events.
func (w *Watcher) Quit(err error) {
	w.quitOnce.Do(func() {
		w.mu.Lock()
		w.quitting = true
		w.quitErr = err
		started := w.started

		if !started {
			w.err = err
		}
		w.mu.Unlock()

		close(w.quit)

		if !started {
			close(w.events)
			close(w.done)
		}
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	delay, errPoll := w.poll(ctx)

	for {
		if errPoll != nil {
			w.logger.Error("Giving up on file", zap.Error(errPoll))
			w.closeFile()
			w.setErr(errPoll)

			return
		}

		select {
		case <-w.quit:
			w.finish(ctx)

			return
		case <-ctx.Done():
			w.finish(ctx)

			return
		default:
		}

		timer := time.NewTimer(delay)

		select {
		case <-w.quit:
			timer.Stop()
			w.finish(ctx)

			return
		case <-ctx.Done():
			timer.Stop()
			w.finish(ctx)

			return
		case <-timer.C:
		}

		delay, errPoll = w.poll(ctx)
	}
}

func (w *Watcher) finish(ctx context.Context) {
	w.finalizing = true

	if _, errPoll := w.poll(ctx); errPoll != nil {
		w.logger.Debug("Final poll failed", zap.Error(errPoll))
	}

	w.closeFile()

	w.mu.Lock()
	w.err = w.quitErr
	w.mu.Unlock()
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

// poll runs one tick and returns the delay until the next one. A non nil
// error is fatal.
func (w *Watcher) poll(ctx context.Context) (time.Duration, error) {
	stat, errStat := statFile(w.cfg.Path)
	if errStat != nil {
		return w.pollFailed(ctx, errStat)
	}

	w.failures = 0
	changed := false

	switch {
	case !w.known:
		if errOpen := w.ensureOpen(); errOpen != nil {
			return w.pollFailed(ctx, errOpen)
		}

		w.id = stat.id
		w.known = true

		// A file created after the watch began is new in its entirety.
		if !w.cfg.FromStart && !w.seenMissing {
			w.offset.Store(stat.size)
		}
	case stat.id != w.id:
		if !w.drain(ctx) {
			return w.cfg.PollInterval, nil
		}

		w.closeFile()

		if errOpen := w.ensureOpen(); errOpen != nil {
			return w.pollFailed(ctx, errOpen)
		}

		w.id = stat.id
		w.offset.Store(0)
		changed = true

		w.logger.Info("File replaced, reading from start")

		if !w.deliver(ctx, Renamed{}) {
			return w.cfg.PollInterval, nil
		}
	case stat.size < w.offset.Load():
		w.offset.Store(0)
		changed = true

		w.logger.Info("File truncated, reading from start")

		if !w.deliver(ctx, Truncated{}) {
			return w.cfg.PollInterval, nil
		}
	}

	if errOpen := w.ensureOpen(); errOpen != nil {
		return w.pollFailed(ctx, errOpen)
	}

	if stat.size != w.offset.Load() {
		if _, errRead := w.stream(ctx, stat.size); errRead != nil {
			w.deliver(ctx, Advisory{Err: errRead})
		}

		return w.cfg.PollInterval, nil
	}

	if !changed {
		w.deliver(ctx, Flush{Offset: w.offset.Load()})
	}

	return w.cfg.PollInterval, nil
}

func (w *Watcher) pollFailed(ctx context.Context, cause error) (time.Duration, error) {
	w.failures++

	if !w.known {
		w.seenMissing = true
	}

	if w.file != nil {
		w.drain(ctx)
		w.closeFile()
	}

	if w.failures >= w.cfg.MaxPollFailures {
		return 0, errors.Wrapf(ErrTooManyFailures, "%d consecutive failures: %v", w.failures, cause)
	}

	w.logger.Debug("Poll failed", zap.Int("failures", w.failures), zap.Error(cause))
	w.deliver(ctx, Retry{Failures: w.failures, Err: cause})

	return w.cfg.FailureRetry, nil
}

// drain delivers whatever is left in the open handle past the offset. The
// handle stays readable after its path was unlinked or renamed. Read
// failures are reported as advisories. It returns false if delivery was
// interrupted.
func (w *Watcher) drain(ctx context.Context) bool {
	if w.file == nil {
		return true
	}

	delivered, errRead := w.stream(ctx, -1)
	if errRead != nil {
		w.logger.Warn("Failed to drain previous file", zap.Error(errRead))

		return w.deliver(ctx, Advisory{Err: errors.Wrap(errRead, "Failed to drain previous file")})
	}

	return delivered
}

// stream delivers bytes from the offset up to limit, or to EOF when limit is
// negative. The offset only advances once a chunk was accepted.
func (w *Watcher) stream(ctx context.Context, limit int64) (bool, error) {
	for limit < 0 || w.offset.Load() < limit {
		size := int64(w.cfg.ChunkSize)
		if limit >= 0 && limit-w.offset.Load() < size {
			size = limit - w.offset.Load()
		}

		buf := make([]byte, size)
		offset := w.offset.Load()

		count, errRead := w.file.ReadAt(buf, offset)
		if count > 0 {
			if !w.deliver(ctx, Data{Bytes: buf[:count], Offset: offset}) {
				return false, nil
			}

			w.offset.Store(offset + int64(count))
		}

		if errRead != nil {
			if errors.Is(errRead, io.EOF) {
				return true, nil
			}

			return true, errors.Wrap(errRead, "Failed to read file")
		}
	}

	return true, nil
}

// deliver sends event, blocking while the consumer is behind. Polling is
// suspended for as long as it blocks. Returns false when interrupted by Quit
// or ctx, or by the flush timeout during the final poll.
func (w *Watcher) deliver(ctx context.Context, event Event) bool {
	if w.finalizing {
		switch event.(type) {
		case Flush, Retry:
			return true
		}
	}

	select {
	case w.events <- event:
		return true
	default:
	}

	w.pauses.Add(1)

	quit, cancelled := w.quit, ctx.Done()
	var deadline <-chan time.Time

	// The final poll ignores Quit and ctx; only the flush timeout ends it.
	if w.finalizing {
		quit, cancelled = nil, nil
		timer := time.NewTimer(w.cfg.FlushTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	if _, isData := event.(Data); isData {
		w.logger.Debug("Consumer is behind, polling paused", zap.Int64("offset", w.offset.Load()))
	}

	select {
	case w.events <- event:
		return true
	case <-quit:
		return false
	case <-cancelled:
		return false
	case <-deadline:
		w.logger.Warn("Consumer stopped reading, dropping remaining data", zap.Int64("offset", w.offset.Load()))

		return false
	}
}

func (w *Watcher) ensureOpen() error {
	if w.file != nil {
		return nil
	}

	file, errOpen := os.Open(w.cfg.Path)
	if errOpen != nil {
		return errors.Wrap(errOpen, "Failed to open file")
	}

	w.file = file

	return nil
}

func (w *Watcher) closeFile() {
	if w.file == nil {
		return
	}

	if errClose := w.file.Close(); errClose != nil {
		w.logger.Warn("Failed to close file", zap.Error(errClose))
	}

	w.file = nil
}
