// Package rcontest provides in-process rcon servers for tests, in the spirit
// of net/http/httptest.
package rcontest

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/pkg/errors"
)

const (
	authFailedID = -1
	// BroadcastID is the id used for unsolicited log lines.
	BroadcastID = 0
)

// Handler produces the reply body for a command.
type Handler func(command string) string

// Echo replies with the command itself.
func Echo(command string) string {
	return command
}

// StreamServer speaks the TCP rcon protocol on a loopback port.
type StreamServer struct {
	Addr     string
	Host     string
	Port     uint16
	password string
	handler  Handler
	listener net.Listener

	// WriteChunk, when > 0, splits every reply into writes of this many
	// bytes to exercise client side reassembly.
	WriteChunk int

	mu       sync.Mutex
	conns    map[net.Conn]bool
	commands []string
	wg       sync.WaitGroup
}

// NewStreamServer starts listening immediately.
func NewStreamServer(password string, handler Handler) (*StreamServer, error) {
	listener, errListen := net.Listen("tcp", "127.0.0.1:0")
	if errListen != nil {
		return nil, errors.Wrap(errListen, "Failed to listen")
	}

	if handler == nil {
		handler = Echo
	}

	addr, _ := listener.Addr().(*net.TCPAddr)
	server := &StreamServer{
		Addr:     listener.Addr().String(),
		Host:     addr.IP.String(),
		Port:     uint16(addr.Port),
		password: password,
		handler:  handler,
		listener: listener,
		conns:    map[net.Conn]bool{},
	}

	server.wg.Add(1)

	go server.accept()

	return server, nil
}

func (s *StreamServer) accept() {
	defer s.wg.Done()

	for {
		conn, errAccept := s.listener.Accept()
		if errAccept != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = false
		s.mu.Unlock()

		s.wg.Add(1)

		go s.serve(conn)
	}
}

func (s *StreamServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()

		_ = conn.Close()
	}()

	var (
		decoder rcon.Decoder
		buf     = make([]byte, 4096)
	)

	for {
		count, errRead := conn.Read(buf)
		if errRead != nil {
			return
		}

		packets, errDecode := decoder.Feed(buf[:count])
		if errDecode != nil {
			return
		}

		for _, packet := range packets {
			if !s.handle(conn, packet) {
				return
			}
		}
	}
}

func (s *StreamServer) handle(conn net.Conn, packet rcon.Packet) bool {
	switch packet.Type {
	case rcon.PacketAuth:
		if packet.Body != s.password {
			return s.write(conn, rcon.Packet{ID: authFailedID, Type: rcon.PacketAuthResponse})
		}

		s.mu.Lock()
		s.conns[conn] = true
		s.mu.Unlock()

		// srcds sends an empty value response ahead of the auth response.
		return s.write(conn, rcon.Packet{ID: packet.ID, Type: rcon.PacketResponseValue}) &&
			s.write(conn, rcon.Packet{ID: packet.ID, Type: rcon.PacketAuthResponse})
	case rcon.PacketCommand:
		s.mu.Lock()
		authed := s.conns[conn]
		if authed {
			s.commands = append(s.commands, packet.Body)
		}
		s.mu.Unlock()

		if !authed {
			return false
		}

		return s.write(conn, rcon.Packet{ID: packet.ID, Type: rcon.PacketResponseValue, Body: s.handler(packet.Body) + "\n"})
	default:
		return true
	}
}

func (s *StreamServer) write(conn net.Conn, packet rcon.Packet) bool {
	payload, errEncode := rcon.EncodePacket(packet)
	if errEncode != nil {
		return false
	}

	return s.writeRaw(conn, payload)
}

func (s *StreamServer) writeRaw(conn net.Conn, payload []byte) bool {
	if s.WriteChunk <= 0 {
		_, errWrite := conn.Write(payload)

		return errWrite == nil
	}

	for len(payload) > 0 {
		size := s.WriteChunk
		if size > len(payload) {
			size = len(payload)
		}

		if _, errWrite := conn.Write(payload[:size]); errWrite != nil {
			return false
		}

		payload = payload[size:]
	}

	return true
}

// Broadcast sends body to every authenticated connection with an id other
// than the client's, as servers do when their console log is redirected.
func (s *StreamServer) Broadcast(body string) {
	s.WriteAll(rcon.Packet{ID: BroadcastID, Type: rcon.PacketResponseValue, Body: body + "\n"})
}

// WriteAll sends packet to every authenticated connection.
func (s *StreamServer) WriteAll(packet rcon.Packet) {
	payload, errEncode := rcon.EncodePacket(packet)
	if errEncode != nil {
		return
	}

	s.WriteAllRaw(payload)
}

// WriteAllRaw sends raw bytes to every authenticated connection.
func (s *StreamServer) WriteAllRaw(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn, authed := range s.conns {
		if authed {
			s.writeRaw(conn, payload)
		}
	}
}

// Commands returns every command received from authenticated clients.
func (s *StreamServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

// Authenticated reports how many connections have authenticated.
func (s *StreamServer) Authenticated() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, authed := range s.conns {
		if authed {
			count++
		}
	}

	return count
}

// DropClients closes every open connection from the server side.
func (s *StreamServer) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *StreamServer) Close() {
	_ = s.listener.Close()
	s.DropClients()
	s.wg.Wait()
}

// DatagramServer speaks the UDP challenge protocol on a loopback port.
type DatagramServer struct {
	Addr     string
	Host     string
	Port     uint16
	password string
	token    string
	handler  Handler
	conn     *net.UDPConn

	mu       sync.Mutex
	peer     *net.UDPAddr
	commands []string
	wg       sync.WaitGroup
}

func NewDatagramServer(password string, token string, handler Handler) (*DatagramServer, error) {
	conn, errListen := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if errListen != nil {
		return nil, errors.Wrap(errListen, "Failed to listen")
	}

	if handler == nil {
		handler = Echo
	}

	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	server := &DatagramServer{
		Addr:     addr.String(),
		Host:     addr.IP.String(),
		Port:     uint16(addr.Port),
		password: password,
		token:    token,
		handler:  handler,
		conn:     conn,
	}

	server.wg.Add(1)

	go server.serve()

	return server, nil
}

func (s *DatagramServer) serve() {
	defer s.wg.Done()

	buf := make([]byte, 65535)

	for {
		count, peer, errRead := s.conn.ReadFromUDP(buf)
		if errRead != nil {
			return
		}

		if count < 4 || binary.LittleEndian.Uint32(buf) != 0xFFFFFFFF {
			continue
		}

		s.mu.Lock()
		s.peer = peer
		s.mu.Unlock()

		s.handle(peer, strings.TrimRight(string(buf[4:count]), "\x00\n"))
	}
}

func (s *DatagramServer) handle(peer *net.UDPAddr, text string) {
	if text == "" {
		return
	}

	if text == "challenge rcon" {
		s.reply(peer, "challenge rcon "+s.token+"\n")

		return
	}

	fields := strings.SplitN(text, " ", 4)
	if len(fields) < 3 || fields[0] != "rcon" {
		return
	}

	var command string

	switch {
	case len(fields) == 4 && fields[1] == s.token && fields[2] == s.password:
		command = fields[3]
	case fields[1] == s.password:
		command = strings.Join(fields[2:], " ")
	default:
		s.reply(peer, "lBad rcon_password.\n")

		return
	}

	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	s.reply(peer, "l"+s.handler(command)+"\n")
}

func (s *DatagramServer) reply(peer *net.UDPAddr, text string) {
	payload := make([]byte, 4, 4+len(text)+1)
	binary.LittleEndian.PutUint32(payload, 0xFFFFFFFF)
	payload = append(payload, text...)
	payload = append(payload, 0)

	_, _ = s.conn.WriteToUDP(payload, peer)
}

// SendRaw writes payload, unmodified, to the most recent peer.
func (s *DatagramServer) SendRaw(payload []byte) error {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		return errors.New("no peer yet")
	}

	_, errWrite := s.conn.WriteToUDP(payload, peer)

	return errors.Wrap(errWrite, "Failed to write datagram")
}

// Commands returns every accepted command.
func (s *DatagramServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

func (s *DatagramServer) Close() {
	_ = s.conn.Close()
	s.wg.Wait()
}

// PortString is a convenience for building addresses in tests.
func PortString(port uint16) string {
	return strconv.Itoa(int(port))
}
