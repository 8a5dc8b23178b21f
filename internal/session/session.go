// Package session ties an rcon connection, a log tail and the classifier
// together for the duration of one match.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/leighmacdonald/scorebot/internal/platform"
	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/leighmacdonald/scorebot/pkg/scorebot"
	"github.com/leighmacdonald/scorebot/pkg/tail"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWatchdogInterval = time.Second * 5
	recentEventsSize        = 100
)

var (
	ErrServerGone     = errors.New("server process exited")
	ErrClosed         = errors.New("session closed")
	ErrAlreadyStarted = errors.New("session already started")
)

type Config struct {
	RCON rcon.Options
	Tail tail.Config
	// Encoding of the log file, see tail.NewLineSplitter.
	Encoding      string
	SetupCommands []string
	// ClassifyBroadcasts also classifies log lines the server pushes over
	// rcon. Leave off when the same lines are read from the log file.
	ClassifyBroadcasts bool
	// PID of the server process. When set the session fails once the
	// process disappears.
	PID              int
	WatchdogInterval time.Duration
}

// Result is the outcome of a finished match.
type Result struct {
	Map        string         `json:"map"`
	Score      scorebot.Score `json:"score"`
	Rounds     int            `json:"rounds"`
	Kills      int            `json:"kills"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Status is a point in time view of the session.
type Status struct {
	Authenticated bool           `json:"authenticated"`
	Finished      bool           `json:"finished"`
	Map           string         `json:"map"`
	Rounds        int            `json:"rounds"`
	Score         scorebot.Score `json:"score"`
	Kills         int            `json:"kills"`
	Chat          int            `json:"chat"`
	Lines         int64          `json:"lines"`
	Offset        int64          `json:"offset"`
	Pauses        int64          `json:"pauses"`
	StartedAt     time.Time      `json:"started_at"`
}

type Session struct {
	cfg        Config
	logger     *zap.Logger
	client     *rcon.Client
	watcher    *tail.Watcher
	splitter   *tail.LineSplitter
	classifier *scorebot.Classifier

	mu          sync.RWMutex
	started     bool
	status      Status
	recent      []scorebot.Event
	subscribers []chan<- scorebot.Event
	cancel      context.CancelFunc
	group       *errgroup.Group

	resolved    chan struct{}
	resolveOnce sync.Once
	result      Result
	resultErr   error
	closeOnce   sync.Once
	closeErr    error
}

func New(cfg Config, logger *zap.Logger) (*Session, error) {
	watcher, errWatcher := tail.New(cfg.Tail, logger)
	if errWatcher != nil {
		return nil, errors.Wrap(errWatcher, "Failed to create log watcher")
	}

	splitter, errSplitter := tail.NewLineSplitter(cfg.Encoding)
	if errSplitter != nil {
		return nil, errors.Wrap(errSplitter, "Failed to create line splitter")
	}

	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}

	return &Session{
		cfg:        cfg,
		logger:     logger.Named("session"),
		client:     rcon.New(cfg.RCON, logger),
		watcher:    watcher,
		splitter:   splitter,
		classifier: scorebot.New(logger),
		resolved:   make(chan struct{}),
	}, nil
}

// Client exposes the rcon client for issuing extra commands.
func (s *Session) Client() *rcon.Client {
	return s.client
}

// Send issues an rcon command. The reply is only logged.
func (s *Session) Send(ctx context.Context, command string) error {
	return s.client.Send(ctx, command)
}

// Subscribe registers out to receive every classified event. Sends never
// block; a subscriber that falls behind misses events.
func (s *Session) Subscribe(out chan<- scorebot.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, out)
}

// Start begins tailing, connects and authenticates, then sends the setup
// commands. A failure rejects the pending result.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s.started = true
	s.cancel = cancel
	s.group = group
	s.status.StartedAt = time.Now()
	s.mu.Unlock()

	if errStart := s.watcher.Start(groupCtx); errStart != nil {
		s.reject(errStart)

		return errors.Wrap(errStart, "Failed to start log watcher")
	}

	group.Go(s.consumeLog)
	group.Go(func() error {
		return s.consumeRCON(groupCtx)
	})

	if s.cfg.PID > 0 {
		group.Go(func() error {
			return s.watchdog(groupCtx)
		})
	}

	if errInit := s.client.Init(groupCtx); errInit != nil {
		s.reject(errInit)

		return errors.Wrap(errInit, "Failed to initialise rcon")
	}

	for _, command := range s.cfg.SetupCommands {
		if errSend := s.client.Send(groupCtx, command); errSend != nil {
			s.reject(errSend)

			return errors.Wrapf(errSend, "Failed to send setup command %q", command)
		}

		s.logger.Debug("Sent setup command", zap.String("command", command))
	}

	s.logger.Info("Session started", zap.String("log", s.cfg.Tail.Path), zap.String("rcon", s.cfg.RCON.Addr()))

	return nil
}

// AwaitResult blocks until the first game over line, a fatal failure, Close
// or ctx. It returns the same outcome on every call.
func (s *Session) AwaitResult(ctx context.Context) (Result, error) {
	select {
	case <-s.resolved:
		return s.result, s.resultErr
	case <-ctx.Done():
		return Result{}, errors.Wrap(ctx.Err(), "Stopped waiting for result")
	}
}

// Done is closed once the result is known.
func (s *Session) Done() <-chan struct{} {
	return s.resolved
}

// Close disconnects, stops the tail after a final flush and waits for the
// session's goroutines. Both shutdowns always run.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		errDisconnect := s.client.Disconnect()
		if errDisconnect != nil {
			s.logger.Warn("Failed to disconnect", zap.Error(errDisconnect))
		}

		s.watcher.Quit(nil)

		s.mu.RLock()
		cancel, group, started := s.cancel, s.group, s.started
		s.mu.RUnlock()

		if started {
			// Leaves time for the final poll before the rcon consumer stops.
			<-s.watcher.Done()
			cancel()

			if errGroup := group.Wait(); errGroup != nil {
				s.logger.Debug("Session ended with error", zap.Error(errGroup))
			}
		}

		s.reject(ErrClosed)
		s.closeErr = errDisconnect
	})

	return s.closeErr
}

// Snapshot returns the current match state.
func (s *Session) Snapshot() Status {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	status.Authenticated = s.client.Authenticated()
	status.Offset = s.watcher.Offset()
	status.Pauses = s.watcher.Pauses()

	return status
}

// Recent returns up to the last 100 classified events, oldest first.
func (s *Session) Recent() []scorebot.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]scorebot.Event(nil), s.recent...)
}

func (s *Session) consumeLog() error {
	for event := range s.watcher.Events() {
		switch evt := event.(type) {
		case tail.Data:
			s.handleLines(s.splitter.Feed(evt.Bytes))
		case tail.Renamed:
			s.logger.Info("Log file rotated")
			s.handleLines(s.splitter.Flush())
		case tail.Truncated:
			s.logger.Info("Log file truncated")
			s.handleLines(s.splitter.Flush())
		case tail.Retry:
			s.logger.Debug("Log poll failed", zap.Int("failures", evt.Failures), zap.Error(evt.Err))
		case tail.Advisory:
			s.logger.Warn("Log watcher advisory", zap.Error(evt.Err))
		case tail.Flush:
		}
	}

	s.handleLines(s.splitter.Flush())

	if errTail := s.watcher.Err(); errTail != nil && errors.Is(errTail, tail.ErrTooManyFailures) {
		s.reject(errTail)

		return errTail
	}

	return nil
}

func (s *Session) consumeRCON(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-s.client.Events():
			switch evt := event.(type) {
			case rcon.Connected:
				s.logger.Debug("RCON connected", zap.String("addr", evt.Addr))
			case rcon.Authenticated:
				s.logger.Debug("RCON authenticated")
			case rcon.Response:
				if evt.Body != "" {
					s.logger.Debug("RCON response", zap.String("body", evt.Body))
				}
			case rcon.Broadcast:
				if s.cfg.ClassifyBroadcasts {
					s.handleLines(strings.Split(evt.Body, "\n"))
				}
			case rcon.Error:
				s.logger.Warn("RCON error", zap.Error(evt.Err))
			case rcon.End:
				s.logger.Info("RCON connection closed")
			}
		}
	}
}

func (s *Session) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			running, errRunning := platform.IsRunning(s.cfg.PID)
			if errRunning != nil {
				s.logger.Warn("Failed to query server process", zap.Error(errRunning))

				continue
			}

			if !running {
				s.logger.Error("Server process exited", zap.Int("pid", s.cfg.PID))
				s.reject(ErrServerGone)

				return ErrServerGone
			}
		}
	}
}

func (s *Session) handleLines(lines []string) {
	for _, line := range lines {
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.status.Lines++
		s.mu.Unlock()

		event, matched := s.classifier.Classify(line)
		if !matched {
			continue
		}

		s.apply(event)
	}
}

func (s *Session) apply(event scorebot.Event) {
	s.mu.Lock()

	switch evt := event.(type) {
	case scorebot.ChatEvent:
		s.status.Chat++
	case scorebot.KillEvent:
		s.status.Kills++
	case scorebot.RoundOverEvent:
		s.status.Rounds++
		s.status.Score = evt.Score
	case scorebot.GameOverEvent:
		if !s.status.Finished {
			s.status.Finished = true
			s.status.Map = evt.Map
			s.status.Score = evt.Score
		}
	}

	s.recent = append(s.recent, event)
	if len(s.recent) > recentEventsSize {
		s.recent = s.recent[len(s.recent)-recentEventsSize:]
	}

	status := s.status
	subscribers := s.subscribers
	s.mu.Unlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			s.logger.Warn("Subscriber is behind, dropped event", zap.Stringer("type", event.Type()))
		}
	}

	if gameOver, isGameOver := event.(scorebot.GameOverEvent); isGameOver {
		s.resolve(Result{
			Map:        gameOver.Map,
			Score:      gameOver.Score,
			Rounds:     status.Rounds,
			Kills:      status.Kills,
			FinishedAt: gameOver.Timestamp,
		})
	}
}

func (s *Session) resolve(result Result) {
	s.resolveOnce.Do(func() {
		s.result = result
		s.logger.Info("Match finished", zap.String("map", result.Map),
			zap.Int("score_a", result.Score[0]), zap.Int("score_b", result.Score[1]))
		close(s.resolved)
	})
}

func (s *Session) reject(err error) {
	s.resolveOnce.Do(func() {
		s.resultErr = err
		close(s.resolved)
	})
}
