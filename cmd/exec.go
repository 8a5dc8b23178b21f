package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leighmacdonald/scorebot/internal/logging"
	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var execTimeout time.Duration

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a single rcon command and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, errSettings := loadSettings()
		if errSettings != nil {
			return errSettings
		}

		logger := logging.MustCreateLogger(settings)

		sessionConfig, errConfig := settings.SessionConfig()
		if errConfig != nil {
			return errConfig
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), execTimeout)
		defer cancel()

		client := rcon.New(sessionConfig.RCON, logger)
		defer func() {
			if errDisconnect := client.Disconnect(); errDisconnect != nil {
				logger.Warn("Failed to disconnect", zap.Error(errDisconnect))
			}
		}()

		reply, errExec := execute(ctx, client, strings.Join(args, " "))
		if errExec != nil {
			return errExec
		}

		fmt.Println(reply)

		return nil
	},
}

// execute authenticates, sends command and returns the first reply to it.
func execute(ctx context.Context, client *rcon.Client, command string) (string, error) {
	if errInit := client.Init(ctx); errInit != nil {
		return "", errors.Wrap(errInit, "Failed to connect")
	}

	// Anything queued up to the authentication predates the command.
	if errSkip := awaitAuthenticated(ctx, client); errSkip != nil {
		return "", errSkip
	}

	if errSend := client.Send(ctx, command); errSend != nil {
		return "", errors.Wrap(errSend, "Failed to send command")
	}

	for {
		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "No reply")
		case event := <-client.Events():
			switch evt := event.(type) {
			case rcon.Response:
				return evt.Body, nil
			case rcon.Error:
				return "", evt.Err
			case rcon.End:
				return "", rcon.ErrNotConnected
			}
		}
	}
}

func awaitAuthenticated(ctx context.Context, client *rcon.Client) error {
	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Authentication event missing")
		case event := <-client.Events():
			if _, isAuthed := event.(rcon.Authenticated); isAuthed {
				return nil
			}
		}
	}
}

func init() {
	execCmd.Flags().DurationVarP(&execTimeout, "timeout", "t", time.Second*30, "overall timeout")
}
