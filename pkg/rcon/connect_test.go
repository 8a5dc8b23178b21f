package rcon

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisconnectWhileDialing(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = remote.Close()
	})

	dialing := make(chan struct{})
	release := make(chan struct{})

	client := New(Options{Host: "127.0.0.1", Port: 27015, Password: "secret"}, zap.NewNop())
	client.dial = func(_ context.Context, _ string, _ string) (net.Conn, error) {
		close(dialing)
		<-release

		return local, nil
	}

	errConnect := make(chan error, 1)

	go func() {
		errConnect <- client.Connect(context.Background())
	}()

	select {
	case <-dialing:
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for dial")
	}

	require.NoError(t, client.Disconnect())
	close(release)

	select {
	case errResult := <-errConnect:
		require.ErrorIs(t, errResult, ErrNotConnected)
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for connect")
	}

	// The dialed socket was closed without a handshake being written.
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(time.Second*5)))

	_, errRead := remote.Read(make([]byte, 1))
	require.ErrorIs(t, errRead, io.EOF)
	require.False(t, client.Authenticated())
	require.ErrorIs(t, client.Send(context.Background(), "status"), ErrNotConnected)

	// The abort only applies to the dial it interrupted.
	require.Nil(t, client.currentLink())
	require.False(t, client.abortDial)
}
