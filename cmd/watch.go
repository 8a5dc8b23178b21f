package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/leighmacdonald/scorebot/internal/logging"
	"github.com/leighmacdonald/scorebot/internal/platform"
	"github.com/leighmacdonald/scorebot/internal/session"
	"github.com/leighmacdonald/scorebot/internal/web"
	"github.com/leighmacdonald/scorebot/pkg/scorebot"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const eventQueueSize = 100

var printEvents bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a match until game over and print the final score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, errSettings := loadSettings()
		if errSettings != nil {
			return errSettings
		}

		logger := logging.MustCreateLogger(settings)
		defer func() {
			_ = logger.Sync()
		}()

		sessionConfig, errConfig := settings.SessionConfig()
		if errConfig != nil {
			return errConfig
		}

		if sessionConfig.PID == 0 && settings.ServerBinary != "" {
			pid, errFind := platform.FindServerProcess(settings.ServerBinary)
			if errFind != nil {
				logger.Warn("Server process not found, watchdog disabled",
					zap.String("binary", settings.ServerBinary), zap.Error(errFind))
			} else {
				logger.Info("Watching server process", zap.Int("pid", pid))
				sessionConfig.PID = pid
			}
		}

		rootCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		match, errSession := session.New(sessionConfig, logger)
		if errSession != nil {
			return errors.Wrap(errSession, "Failed to create session")
		}

		group, ctx := errgroup.WithContext(rootCtx)

		if printEvents {
			events := make(chan scorebot.Event, eventQueueSize)
			match.Subscribe(events)

			group.Go(func() error {
				return printLoop(ctx, match.Done(), events, cmd.OutOrStdout())
			})
		}

		if settings.HTTPEnabled {
			httpServer := web.New(logger, settings.RunMode, settings.HTTPListenAddr, match)

			group.Go(func() error {
				return httpServer.Start(ctx)
			})
			group.Go(func() error {
				<-ctx.Done()

				return httpServer.Stop(context.Background())
			})
		}

		var result session.Result

		group.Go(func() error {
			defer func() {
				if errClose := match.Close(); errClose != nil {
					logger.Error("Failed to close session", zap.Error(errClose))
				}
			}()

			if errStart := match.Start(ctx); errStart != nil {
				return errStart
			}

			matchResult, errResult := match.AwaitResult(ctx)
			if errResult != nil {
				return errResult
			}

			result = matchResult
			stop()

			return nil
		})

		if errWait := group.Wait(); errWait != nil && !errors.Is(errWait, context.Canceled) {
			return errWait
		}

		if result.Map == "" {
			return errors.New("match did not finish")
		}

		fmt.Printf("%s %d:%d\n", result.Map, result.Score[0], result.Score[1])

		return nil
	},
}

// printLoop writes events as json lines until done. Events already queued
// when done closes, the final game over included, are still written.
func printLoop(ctx context.Context, done <-chan struct{}, events <-chan scorebot.Event, out io.Writer) error {
	encoder := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			for {
				select {
				case event := <-events:
					if errEncode := encodeEvent(encoder, event); errEncode != nil {
						return errEncode
					}
				default:
					return nil
				}
			}
		case event := <-events:
			if errEncode := encodeEvent(encoder, event); errEncode != nil {
				return errEncode
			}
		}
	}
}

func encodeEvent(encoder *json.Encoder, event scorebot.Event) error {
	if errEncode := encoder.Encode(map[string]any{"type": event.Type().String(), "event": event}); errEncode != nil {
		return errors.Wrap(errEncode, "Failed to write event")
	}

	return nil
}

func init() {
	watchCmd.Flags().BoolVarP(&printEvents, "events", "e", false, "print every classified event as json")
}
