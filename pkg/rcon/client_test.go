package rcon_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/leighmacdonald/scorebot/internal/rcontest"
	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPassword = "hunter2"

func nextEvent(t *testing.T, client *rcon.Client) rcon.Event {
	t.Helper()

	select {
	case event := <-client.Events():
		return event
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for event")

		return nil
	}
}

// awaitEvent skips events until one of type T arrives.
func awaitEvent[T rcon.Event](t *testing.T, client *rcon.Client) T {
	t.Helper()

	for {
		if event, ok := nextEvent(t, client).(T); ok {
			return event
		}
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	return ctx
}

func streamClient(t *testing.T, server *rcontest.StreamServer, password string) *rcon.Client {
	t.Helper()

	client := rcon.New(rcon.Options{
		Host:           server.Host,
		Port:           server.Port,
		Password:       password,
		RetryMax:       2,
		RetryFrequency: time.Millisecond * 10,
		AuthTimeout:    time.Second,
	}, zap.NewNop())

	t.Cleanup(func() {
		_ = client.Disconnect()
	})

	return client
}

func TestStreamSession(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := streamClient(t, server, testPassword)

	require.ErrorIs(t, client.Send(ctx, "status"), rcon.ErrNotConnected)
	require.NoError(t, client.Connect(ctx))

	connected, isConnected := nextEvent(t, client).(rcon.Connected)
	require.True(t, isConnected)
	require.Equal(t, server.Addr, connected.Addr)

	// The empty value packet sent ahead of the auth response surfaces as a
	// normal response.
	preAuth, isResponse := nextEvent(t, client).(rcon.Response)
	require.True(t, isResponse)
	require.Empty(t, preAuth.Body)

	_, isAuthed := nextEvent(t, client).(rcon.Authenticated)
	require.True(t, isAuthed)
	require.True(t, client.Authenticated())

	require.NoError(t, client.Send(ctx, "mp_warmup_end"))
	require.Equal(t, "mp_warmup_end", awaitEvent[rcon.Response](t, client).Body)

	server.Broadcast(`L 10/19/2020 - 21:37:16: World triggered "Round_Start"`)

	broadcast := awaitEvent[rcon.Broadcast](t, client)
	require.Equal(t, int32(rcontest.BroadcastID), broadcast.ID)
	require.Equal(t, `L 10/19/2020 - 21:37:16: World triggered "Round_Start"`, broadcast.Body)
	require.Equal(t, []string{"mp_warmup_end"}, server.Commands())

	require.NoError(t, client.Disconnect())
	awaitEvent[rcon.End](t, client)
	require.False(t, client.Authenticated())
	require.ErrorIs(t, client.Send(ctx, "status"), rcon.ErrNotConnected)

	// Disconnect is idempotent.
	require.NoError(t, client.Disconnect())
}

func TestStreamFragmentedReplies(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, func(command string) string {
		return "reply to " + command
	})
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	server.WriteChunk = 1

	ctx := testContext(t)
	client := streamClient(t, server, testPassword)

	require.NoError(t, client.Connect(ctx))
	awaitEvent[rcon.Authenticated](t, client)

	for _, command := range []string{"status", "users", "sv_cheats"} {
		require.NoError(t, client.Send(ctx, command))
		require.Equal(t, "reply to "+command, awaitEvent[rcon.Response](t, client).Body)
	}
}

func TestStreamAuthFailed(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := streamClient(t, server, "wrong")

	require.NoError(t, client.Connect(ctx))

	failure := awaitEvent[rcon.Error](t, client)
	require.ErrorIs(t, failure.Err, rcon.ErrAuthFailed)
	require.False(t, client.Authenticated())
	require.Zero(t, server.Authenticated())
}

func TestStreamMalformedPacket(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := streamClient(t, server, testPassword)

	require.NoError(t, client.Connect(ctx))
	awaitEvent[rcon.Authenticated](t, client)

	bad := make([]byte, 12)
	binary.LittleEndian.PutUint32(bad, 3)
	server.WriteAllRaw(bad)

	failure := awaitEvent[rcon.Error](t, client)
	require.ErrorIs(t, failure.Err, rcon.ErrMalformedPacket)

	require.NoError(t, client.Send(ctx, "still alive"))
	require.Equal(t, "still alive", awaitEvent[rcon.Response](t, client).Body)
}

func TestStreamServerClosed(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := streamClient(t, server, testPassword)

	require.NoError(t, client.Connect(ctx))
	awaitEvent[rcon.Authenticated](t, client)

	server.DropClients()
	awaitEvent[rcon.End](t, client)
	require.False(t, client.Authenticated())

	// A new connection can be made after the old one ended.
	require.NoError(t, client.Connect(ctx))
	awaitEvent[rcon.Authenticated](t, client)
}

func TestInit(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := streamClient(t, server, testPassword)

	require.NoError(t, client.Init(ctx))
	require.True(t, client.Authenticated())
	require.Equal(t, 1, server.Authenticated())

	// Already authenticated, nothing to do.
	require.NoError(t, client.Init(ctx))
	require.Equal(t, 1, server.Authenticated())
}

func closedAddr(t *testing.T) (string, uint16) {
	t.Helper()

	listener, errListen := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, errListen)

	addr, _ := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	return addr.IP.String(), uint16(addr.Port)
}

func TestInitRetriesExhausted(t *testing.T) {
	host, port := closedAddr(t)
	client := rcon.New(rcon.Options{
		Host:           host,
		Port:           port,
		Password:       testPassword,
		RetryMax:       3,
		RetryFrequency: time.Millisecond * 10,
		DialTimeout:    time.Millisecond * 200,
	}, zap.NewNop())

	start := time.Now()
	errInit := client.Init(testContext(t))
	require.ErrorIs(t, errInit, rcon.ErrRetriesExhausted)
	require.GreaterOrEqual(t, time.Since(start), time.Millisecond*30)
	require.False(t, client.Authenticated())
}

func TestInitBadPassword(t *testing.T) {
	server, errServer := rcontest.NewStreamServer(testPassword, nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	client := streamClient(t, server, "wrong")

	errInit := client.Init(testContext(t))
	require.ErrorIs(t, errInit, rcon.ErrRetriesExhausted)
	require.Contains(t, errInit.Error(), rcon.ErrAuthFailed.Error())
}

func TestInitCancelled(t *testing.T) {
	host, port := closedAddr(t)
	client := rcon.New(rcon.Options{
		Host:           host,
		Port:           port,
		RetryFrequency: time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, client.Init(ctx), context.Canceled)
}

func datagramClient(t *testing.T, server *rcontest.DatagramServer, challenge bool) *rcon.Client {
	t.Helper()

	client := rcon.New(rcon.Options{
		Host:           server.Host,
		Port:           server.Port,
		Password:       testPassword,
		Transport:      rcon.TransportDatagram,
		Challenge:      challenge,
		RetryMax:       2,
		RetryFrequency: time.Millisecond * 10,
		AuthTimeout:    time.Second,
	}, zap.NewNop())

	t.Cleanup(func() {
		_ = client.Disconnect()
	})

	return client
}

func TestDatagramChallenge(t *testing.T) {
	server, errServer := rcontest.NewDatagramServer(testPassword, "1234567", nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := datagramClient(t, server, true)

	// Without a challenge token nothing may be written.
	require.ErrorIs(t, client.Send(ctx, "status"), rcon.ErrUnauthenticated)
	require.Empty(t, server.Commands())

	require.NoError(t, client.Connect(ctx))
	awaitEvent[rcon.Connected](t, client)
	awaitEvent[rcon.Authenticated](t, client)

	require.NoError(t, client.Send(ctx, "status"))
	require.Equal(t, "status", awaitEvent[rcon.Response](t, client).Body)
	require.Equal(t, []string{"status"}, server.Commands())
}

func TestDatagramInline(t *testing.T) {
	server, errServer := rcontest.NewDatagramServer(testPassword, "1234567", nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := datagramClient(t, server, false)

	require.NoError(t, client.Init(ctx))
	require.True(t, client.Authenticated())

	require.NoError(t, client.Send(ctx, "users"))
	require.Equal(t, "users", awaitEvent[rcon.Response](t, client).Body)

	require.ErrorIs(t, client.Send(ctx, "bad\x00command"), rcon.ErrEmbeddedNull)
}

func TestDatagramMalformed(t *testing.T) {
	server, errServer := rcontest.NewDatagramServer(testPassword, "1234567", nil)
	require.NoError(t, errServer)
	t.Cleanup(server.Close)

	ctx := testContext(t)
	client := datagramClient(t, server, true)

	require.NoError(t, client.Init(ctx))
	require.NoError(t, server.SendRaw([]byte{0x01, 0x02, 0x03, 0x04, 'l', 'x'}))

	failure := awaitEvent[rcon.Error](t, client)
	require.ErrorIs(t, failure.Err, rcon.ErrMalformedPacket)

	require.NoError(t, client.Send(ctx, "status"))
	require.Equal(t, "status", awaitEvent[rcon.Response](t, client).Body)
}
