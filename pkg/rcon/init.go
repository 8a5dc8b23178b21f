package rcon

import (
	"context"
	"net"
	"time"

	"github.com/leighmacdonald/scorebot/pkg/util"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Init connects and authenticates, retrying up to RetryMax times. Every
// attempt, including the first, waits RetryFrequency before trying so a
// freshly spawned server has time to bind its port. For the stream
// transport a plain TCP probe runs first and a failed probe skips straight
// to the next attempt.
func (c *Client) Init(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= c.opts.RetryMax; attempt++ {
		timer := time.NewTimer(c.opts.RetryFrequency)
		select {
		case <-ctx.Done():
			timer.Stop()

			return errors.Wrap(ctx.Err(), "rcon init cancelled")
		case <-timer.C:
		}

		log := c.logger.With(zap.Int("attempt", attempt), zap.Int("max", c.opts.RetryMax))

		if c.opts.Transport == TransportStream {
			latency, errProbe := Probe(ctx, c.opts.Addr(), c.opts.DialTimeout)
			if errProbe != nil {
				log.Debug("Server unreachable", zap.Error(errProbe))
				lastErr = errProbe

				continue
			}

			log.Debug("Server reachable", zap.Duration("latency", latency))
		}

		if errAttempt := c.attempt(ctx); errAttempt != nil {
			log.Warn("Connection attempt failed", zap.Error(errAttempt))
			lastErr = errAttempt

			if errDisconnect := c.Disconnect(); errDisconnect != nil {
				log.Warn("Failed to reset connection", zap.Error(errDisconnect))
			}

			continue
		}

		log.Info("Authenticated with server")

		return nil
	}

	if lastErr == nil {
		return ErrRetriesExhausted
	}

	return errors.Wrapf(ErrRetriesExhausted, "last error: %v", lastErr)
}

func (c *Client) attempt(ctx context.Context) error {
	if c.Authenticated() {
		return nil
	}

	if errConnect := c.Connect(ctx); errConnect != nil {
		return errConnect
	}

	conn := c.currentLink()
	if conn == nil {
		return ErrNotConnected
	}

	timer := time.NewTimer(c.opts.AuthTimeout)
	defer timer.Stop()

	select {
	case <-conn.authed:
		return nil
	case errFailed := <-conn.failed:
		return errFailed
	case <-timer.C:
		return errAuthTimeout
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "rcon init cancelled")
	}
}

// Probe opens and immediately closes a TCP connection to addr and returns
// how long the connect took.
func Probe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()

	conn, errDial := dialer.DialContext(ctx, "tcp", addr)
	if errDial != nil {
		return 0, errors.Wrap(errDial, "Failed to probe server")
	}

	latency := time.Since(start)

	util.IgnoreClose(conn)

	return latency, nil
}
