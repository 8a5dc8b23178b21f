// Package rcon implements a remote console client for HL/Source engine
// dedicated servers over either the TCP stream protocol or the legacy UDP
// datagram protocol with challenge authentication.
package rcon

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	eventBufferSize    = 64
	streamReadSize     = 4096
	datagramReadSize   = 65535
	challengeRequest   = "challenge rcon\n"
	challengeKeyword   = "challenge"
	challengeRCON      = "rcon"
	datagramResponseID = 'l'
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrRetriesExhausted = errors.New("rcon retries exhausted")
	errAuthTimeout      = errors.New("timed out waiting for authentication")
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// link is the per-socket state of one connection attempt.
type link struct {
	conn     net.Conn
	writeMu  sync.Mutex
	authed   chan struct{}
	authOnce sync.Once
	failed   chan error
	closed   chan struct{}
	closeMu  sync.Once
	done     chan struct{}
}

func newLink(conn net.Conn) *link {
	return &link{
		conn:   conn,
		authed: make(chan struct{}),
		failed: make(chan error, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *link) close() error {
	var errClose error

	l.closeMu.Do(func() {
		close(l.closed)
		errClose = l.conn.Close()
	})

	return errClose
}

func (l *link) fail(err error) {
	select {
	case l.failed <- err:
	default:
	}
}

// Client owns a single rcon socket. Options are fixed for its lifetime;
// after Disconnect it may Connect again.
type Client struct {
	opts   Options
	logger *zap.Logger
	events chan Event

	dial func(ctx context.Context, network string, addr string) (net.Conn, error)

	mu            sync.Mutex
	state         connState
	link          *link
	authenticated bool
	token         string
	// abortDial is set by a Disconnect that arrives while dialing.
	abortDial bool
}

func New(opts Options, logger *zap.Logger) *Client {
	opts = opts.withDefaults()

	dialer := &net.Dialer{Timeout: opts.DialTimeout}

	return &Client{
		dial:   dialer.DialContext,
		opts:   opts,
		logger: logger.Named("rcon").With(zap.String("addr", opts.Addr()), zap.Stringer("transport", opts.Transport)),
		events: make(chan Event, eventBufferSize),
	}
}

// Events returns the channel every connection of this client reports on. It
// is never closed; an End or Error marks the end of a connection.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Options() Options {
	return c.opts
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.authenticated
}

func (c *Client) currentLink() *link {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.link
}

// Connect opens the socket and starts the transport handshake. It returns
// once the handshake was written; the outcome arrives as an Authenticated
// or Error event. Calling it while connecting or connected does nothing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()

		return nil
	}

	c.state = stateConnecting
	c.mu.Unlock()

	conn, errDial := c.dial(ctx, c.opts.Transport.network(), c.opts.Addr())
	if errDial != nil {
		c.mu.Lock()
		c.state = stateDisconnected
		c.abortDial = false
		c.mu.Unlock()

		return errors.Wrap(errDial, "Failed to dial rcon server")
	}

	active := newLink(conn)

	c.mu.Lock()
	if c.abortDial {
		c.state = stateDisconnected
		c.abortDial = false
		c.mu.Unlock()

		c.logger.Debug("Disconnected while dialing")

		if errClose := conn.Close(); errClose != nil {
			c.logger.Warn("Failed to close rcon socket", zap.Error(errClose))
		}

		return errors.Wrap(ErrNotConnected, "Disconnected while dialing")
	}

	c.link = active
	c.state = stateConnected
	c.authenticated = false
	c.token = ""
	c.mu.Unlock()

	c.logger.Debug("Connected")
	c.emit(active, Connected{Addr: c.opts.Addr()})

	if c.opts.Transport == TransportDatagram {
		go c.readDatagrams(active)
	} else {
		go c.readStream(active)
	}

	if errHandshake := c.handshake(ctx, active); errHandshake != nil {
		c.fail(active, errHandshake)

		return errHandshake
	}

	return nil
}

func (c *Client) handshake(ctx context.Context, conn *link) error {
	switch {
	case c.opts.Transport == TransportStream:
		payload, errEncode := EncodePacket(Packet{ID: c.opts.RequestID, Type: PacketAuth, Body: c.opts.Password})
		if errEncode != nil {
			return errEncode
		}

		return c.write(ctx, conn, payload)
	case c.opts.Challenge:
		return c.write(ctx, conn, encodeDatagram(challengeRequest))
	default:
		// Inline password mode, every command carries the password.
		if errWrite := c.write(ctx, conn, encodeDatagram("\x00")); errWrite != nil {
			return errWrite
		}

		c.markAuthenticated(conn)

		return nil
	}
}

// Send writes command using the COMMAND type and the configured request id.
func (c *Client) Send(ctx context.Context, command string) error {
	return c.SendPacket(ctx, PacketCommand, c.opts.RequestID, command)
}

// SendPacket writes a single packet and returns once the write completed. It
// does not wait for a reply. typ and id only apply to the stream transport.
func (c *Client) SendPacket(ctx context.Context, typ PacketType, id int32, body string) error {
	c.mu.Lock()
	conn := c.link
	connected := c.state == stateConnected
	token := c.token
	c.mu.Unlock()

	if c.opts.Transport == TransportDatagram {
		if c.opts.Challenge && token == "" {
			return ErrUnauthenticated
		}

		if strings.ContainsRune(body, 0) {
			return ErrEmbeddedNull
		}

		if !connected || conn == nil {
			return ErrNotConnected
		}

		return c.write(ctx, conn, encodeDatagram(c.datagramCommand(token, body)))
	}

	if !connected || conn == nil {
		return ErrNotConnected
	}

	payload, errEncode := EncodePacket(Packet{ID: id, Type: typ, Body: body})
	if errEncode != nil {
		return errEncode
	}

	return c.write(ctx, conn, payload)
}

func (c *Client) datagramCommand(token string, command string) string {
	parts := []string{challengeRCON}
	if token != "" {
		parts = append(parts, token)
	}

	if c.opts.Password != "" {
		parts = append(parts, c.opts.Password)
	}

	return strings.Join(append(parts, command), " ") + "\n"
}

func (c *Client) write(ctx context.Context, conn *link, payload []byte) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if errDeadline := conn.conn.SetWriteDeadline(deadline); errDeadline != nil {
			return errors.Wrap(errDeadline, "Failed to set write deadline")
		}

		defer func() {
			_ = conn.conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, errWrite := conn.conn.Write(payload); errWrite != nil {
		return errors.Wrap(errWrite, "Failed to write packet")
	}

	return nil
}

// Disconnect closes the socket and waits for the reader to finish. A socket
// still being dialed is closed as soon as the dial completes. Safe to call
// repeatedly and from an event consumer.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == stateConnecting {
		c.abortDial = true
	}

	conn := c.link
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	errClose := conn.close()

	<-conn.done

	if errClose != nil && !errors.Is(errClose, net.ErrClosed) {
		return errors.Wrap(errClose, "Failed to close rcon socket")
	}

	return nil
}

func (c *Client) readStream(conn *link) {
	var (
		decoder Decoder
		buf     = make([]byte, streamReadSize)
	)

	for {
		count, errRead := conn.conn.Read(buf)
		if count > 0 {
			packets, errDecode := decoder.Feed(buf[:count])
			for _, packet := range packets {
				c.dispatchStream(conn, packet)
			}

			if errDecode != nil {
				c.logger.Warn("Dropped malformed stream data", zap.Error(errDecode))
				c.fail(conn, errDecode)
			}
		}

		if errRead != nil {
			c.finish(conn, errRead)

			return
		}
	}
}

func (c *Client) dispatchStream(conn *link, packet Packet) {
	switch packet.ID {
	case c.opts.RequestID:
		if packet.Type == PacketAuthResponse && !c.Authenticated() {
			c.markAuthenticated(conn)

			return
		}

		if packet.Type == PacketResponseValue {
			c.emit(conn, Response{Body: trimResponse(packet.Body)})

			return
		}

		c.logger.Debug("Ignored packet", zap.Int32("type", int32(packet.Type)))
	case authFailedID:
		c.fail(conn, ErrAuthFailed)
	default:
		c.emit(conn, Broadcast{ID: packet.ID, Body: trimResponse(packet.Body)})
	}
}

func (c *Client) readDatagrams(conn *link) {
	buf := make([]byte, datagramReadSize)

	for {
		count, errRead := conn.conn.Read(buf)
		if count > 0 {
			c.dispatchDatagram(conn, buf[:count])
		}

		if errRead != nil {
			c.finish(conn, errRead)

			return
		}
	}
}

func (c *Client) dispatchDatagram(conn *link, data []byte) {
	text, errText := datagramText(data)
	if errText != nil {
		c.fail(conn, errText)

		return
	}

	tokens := strings.Split(text, " ")
	if len(tokens) == 3 && tokens[0] == challengeKeyword && tokens[1] == challengeRCON {
		token := strings.TrimSpace(strings.TrimRight(tokens[2], "\x00\n"))

		c.mu.Lock()
		c.token = token
		c.mu.Unlock()

		c.markAuthenticated(conn)

		return
	}

	c.emit(conn, Response{Body: trimDatagramResponse(text)})
}

func (c *Client) markAuthenticated(conn *link) {
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	conn.authOnce.Do(func() { close(conn.authed) })

	c.logger.Debug("Authenticated")
	c.emit(conn, Authenticated{})
}

func (c *Client) fail(conn *link, err error) {
	conn.fail(err)
	c.emit(conn, Error{Err: err})
}

// finish handles the reader exiting. A local close or EOF is a clean End,
// anything else is reported as an Error.
func (c *Client) finish(conn *link, errRead error) {
	defer close(conn.done)

	_ = conn.close()

	c.mu.Lock()
	if c.link == conn {
		c.state = stateDisconnected
		c.authenticated = false
		c.token = ""
	}
	c.mu.Unlock()

	if errors.Is(errRead, io.EOF) || errors.Is(errRead, net.ErrClosed) {
		conn.fail(ErrNotConnected)
		c.logger.Debug("Connection closed")

		select {
		case c.events <- End{}:
		default:
			c.logger.Warn("Event buffer full, dropped end event")
		}

		return
	}

	c.logger.Error("Connection failed", zap.Error(errRead))
	wrapped := errors.Wrap(errRead, "Failed to read from rcon socket")
	conn.fail(wrapped)

	select {
	case c.events <- Error{Err: wrapped}:
	default:
		c.logger.Warn("Event buffer full, dropped error event")
	}
}

// emit blocks while the consumer is behind unless the link is closing.
func (c *Client) emit(conn *link, event Event) {
	select {
	case c.events <- event:
	case <-conn.closed:
	}
}

func trimResponse(body string) string {
	return strings.TrimSuffix(body, "\n")
}

func trimDatagramResponse(text string) string {
	text = strings.TrimRight(text, "\x00")
	text = strings.TrimSuffix(text, "\n")

	if len(text) > 0 && text[0] == datagramResponseID {
		text = text[1:]
	}

	return text
}
