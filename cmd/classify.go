package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/leighmacdonald/scorebot/internal/logging"
	"github.com/leighmacdonald/scorebot/pkg/scorebot"
	"github.com/leighmacdonald/scorebot/pkg/tail"
	"github.com/leighmacdonald/scorebot/pkg/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	follow         bool
	classifyEncode string
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file]",
	Short: "Classify log lines from a file or stdin and print matches as json",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, errSettings := loadSettings()
		if errSettings != nil {
			return errSettings
		}

		logger := logging.MustCreateLogger(settings)
		classifier := scorebot.New(logger)

		encoding := classifyEncode
		if encoding == "" {
			encoding = settings.Log.Encoding
		}

		splitter, errSplitter := tail.NewLineSplitter(encoding)
		if errSplitter != nil {
			return errSplitter
		}

		out := json.NewEncoder(cmd.OutOrStdout())

		if follow {
			if len(args) == 0 {
				return errors.New("--follow needs a file")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return followFile(ctx, logger, args[0], classifier, splitter, out)
		}

		input := cmd.InOrStdin()

		if len(args) == 1 {
			file, errOpen := os.Open(args[0])
			if errOpen != nil {
				return errors.Wrap(errOpen, "Failed to open log")
			}

			defer util.LogClose(logger, file)

			input = file
		}

		body, errRead := io.ReadAll(input)
		if errRead != nil {
			return errors.Wrap(errRead, "Failed to read log")
		}

		if errPrint := printLines(classifier, splitter.Feed(body), out); errPrint != nil {
			return errPrint
		}

		return printLines(classifier, splitter.Flush(), out)
	},
}

func followFile(ctx context.Context, logger *zap.Logger, path string, classifier *scorebot.Classifier,
	splitter *tail.LineSplitter, out *json.Encoder,
) error {
	watcher, errWatcher := tail.New(tail.Config{Path: path, FromStart: true}, logger)
	if errWatcher != nil {
		return errors.Wrap(errWatcher, "Failed to create watcher")
	}

	if errStart := watcher.Start(ctx); errStart != nil {
		return errors.Wrap(errStart, "Failed to start watcher")
	}

	for event := range watcher.Events() {
		var lines []string

		switch evt := event.(type) {
		case tail.Data:
			lines = splitter.Feed(evt.Bytes)
		case tail.Renamed, tail.Truncated:
			lines = splitter.Flush()
		}

		if errPrint := printLines(classifier, lines, out); errPrint != nil {
			watcher.Quit(errPrint)
		}
	}

	return watcher.Err()
}

func printLines(classifier *scorebot.Classifier, lines []string, out *json.Encoder) error {
	for _, line := range lines {
		event, matched := classifier.Classify(line)
		if !matched {
			continue
		}

		if errEncode := out.Encode(map[string]any{"type": event.Type().String(), "event": event}); errEncode != nil {
			return errors.Wrap(errEncode, "Failed to write event")
		}
	}

	return nil
}

func init() {
	classifyCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading as the file grows")
	classifyCmd.Flags().StringVar(&classifyEncode, "encoding", "", "log encoding, defaults to the configured one")
}
