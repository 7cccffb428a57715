package simulator

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-attendance-bridge/internal/pool"
	"school-attendance-bridge/internal/types"
)

func TestSessionSatisfiesPoolSession(t *testing.T) {
	var _ pool.Session = (*Session)(nil)
}

func TestTestLivenessIsRoughlyNinetyPercentOnline(t *testing.T) {
	s := New(types.Device{ID: "dev-1"}, 0, logrus.NewEntry(logrus.New()))
	online := 0
	const total = 1000
	for i := 0; i < total; i++ {
		if s.TestLiveness(context.Background()) {
			online++
		}
	}
	assert.InDelta(t, 900, online, 40, "simulated online rate should hover around 90%%")
}

func TestTestLivenessIsDeterministicAcrossIndependentSessions(t *testing.T) {
	a := New(types.Device{ID: "dev-1"}, 0, logrus.NewEntry(logrus.New()))
	b := New(types.Device{ID: "dev-1"}, 0, logrus.NewEntry(logrus.New()))
	for i := 0; i < 50; i++ {
		require.Equal(t, a.TestLiveness(context.Background()), b.TestLiveness(context.Background()))
	}
}

func TestMetadataOperationsReturnEmptyStubValues(t *testing.T) {
	s := New(types.Device{ID: "dev-1"}, 0, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	serial, err := s.GetSerial(ctx)
	require.NoError(t, err)
	assert.Empty(t, serial)

	free, err := s.GetFreeSizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.FreeSizes{}, free)

	logs, err := s.FetchAttendanceLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestEnrollmentOperationsAreUnsupported(t *testing.T) {
	s := New(types.Device{ID: "dev-1"}, 0, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	require.ErrorIs(t, s.StartEnrollment(ctx, "42", 0), ErrUnsupported)
	_, err := s.GetTemplateBytes(ctx, "42", 0)
	require.ErrorIs(t, err, ErrUnsupported)
}
