package eventqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"school-attendance-bridge/internal/types"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = discardWriter{}
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := New(s.Addr(), "", 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestEnqueuePushesOntoTenantQueue(t *testing.T) {
	r := newTestRelay(t)
	record := types.AttendanceRecord{ID: "rec-1", TenantID: "t1", DeviceID: "d1", StudentID: "s1", EventType: types.EventIN, OccurredAt: time.Now().UTC()}

	require.NoError(t, r.Enqueue("t1", record))

	n, err := r.QueueLength(context.Background(), "t1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestDeliverInvokesHandlerAndDrainsQueue(t *testing.T) {
	r := newTestRelay(t)
	require.NoError(t, r.Enqueue("t1", types.AttendanceRecord{ID: "rec-1", TenantID: "t1"}))

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Message, 1)
	go func() {
		_ = r.Deliver(ctx, "t1", func(msg Message) error {
			received <- msg
			cancel()
			return nil
		})
	}()

	select {
	case msg := <-received:
		require.Equal(t, "rec-1", msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDeliverRequeuesFailedMessageToRetryQueue(t *testing.T) {
	r := newTestRelay(t)
	require.NoError(t, r.Enqueue("t1", types.AttendanceRecord{ID: "rec-1", TenantID: "t1"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = r.Deliver(ctx, "t1", func(msg Message) error {
			close(done)
			return errFailing
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery attempt")
	}
	// give the failure branch a moment to push onto the retry list.
	time.Sleep(50 * time.Millisecond)
	cancel()

	n, err := r.QueueLength(context.Background(), "t1")
	require.NoError(t, err)
	require.EqualValues(t, 0, n, "failed message should have left the primary queue")

	retryLen, err := r.client.LLen(context.Background(), retryQueue("t1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, retryLen)
}

func TestDeliverDeadLettersAfterMaxRetries(t *testing.T) {
	r := newTestRelay(t)
	// Simulate a message that has already failed maxRetries-1 times.
	require.NoError(t, r.push(context.Background(), tenantQueue("t1"), Message{ID: "rec-1", Retries: maxRetries - 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = r.Deliver(ctx, "t1", func(msg Message) error {
			close(done)
			return errFailing
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery attempt")
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	dlqLen, err := r.client.LLen(context.Background(), dlqQueue("t1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, dlqLen)
}

var errFailing = &handlerError{"delivery failed"}

type handlerError struct{ msg string }

func (e *handlerError) Error() string { return e.msg }
