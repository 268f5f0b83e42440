package tcphost

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Serve_EchoesLine(t *testing.T) {
	s, err := New("127.0.0.1:0", "", func(ctx context.Context, c *Connection) {
		line, err := c.ReadLine()
		if err != nil {
			return
		}
		_ = c.WriteLine("echo:" + line[:len(line)-1])
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo:hello\n", reply)
}

func TestService_Stop_ClosesListener(t *testing.T) {
	s, err := New("127.0.0.1:0", "", func(ctx context.Context, c *Connection) {}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	_, err = net.Dial("tcp", s.Addr().String())
	assert.Error(t, err)
}
