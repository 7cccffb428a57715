package pool

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"school-attendance-bridge/internal/protocol"
	"school-attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeDevice accepts connections on a local listener and ACKs every command with
// CMD_ACK_OK and an empty body, enough to satisfy Connect and
// test_liveness (GET_TIME) without implementing the real protocol
// semantics those operations decode.
func fakeDevice(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFake(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func serveFake(conn net.Conn) {
	defer conn.Close()
	for {
		prefix := make([]byte, 8)
		if _, err := readFull(conn, prefix); err != nil {
			return
		}
		_, declaredLen, err := protocol.UnwrapTCP(prefix)
		if err != nil {
			return
		}
		body := make([]byte, declaredLen)
		if declaredLen > 0 {
			if _, err := readFull(conn, body); err != nil {
				return
			}
		}
		h, _, err := protocol.DecodeHeader(body)
		if err != nil {
			return
		}

		var replyBody []byte
		if h.Command == protocol.CmdGetTime {
			replyBody = make([]byte, 4)
		}
		reply := protocol.BuildCommand(protocol.CmdAckOK, 7, h.ReplyCounter, replyBody)
		conn.Write(protocol.WrapTCP(reply))
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestPoolAcquireReusesWithinLivenessWindow(t *testing.T) {
	addr, stop := fakeDevice(t)
	defer stop()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	d := types.Device{ID: "dev-1", TenantID: "t1", Host: host, Port: port}

	logger := logrus.New()
	p := New(2*time.Second, logger)

	s1, release1, err := p.Acquire(context.Background(), d)
	require.NoError(t, err)
	release1()
	s2, release2, err := p.Acquire(context.Background(), d)
	require.NoError(t, err)
	release2()
	require.Same(t, s1, s2)

	p.CloseAll()
}

func TestPoolAcquireSerializesSessionUse(t *testing.T) {
	addr, stop := fakeDevice(t)
	defer stop()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	d := types.Device{ID: "dev-1", TenantID: "t1", Host: host, Port: port}

	logger := logrus.New()
	p := New(2*time.Second, logger)

	_, release, err := p.Acquire(context.Background(), d)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, release2, err := p.Acquire(context.Background(), d)
		if err == nil {
			release2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire completed while the session was still held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never completed after release")
	}

	p.CloseAll()
}
