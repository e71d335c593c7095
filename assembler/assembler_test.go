package assembler

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider lets tests move time forward manually.
type mockTimeProvider struct {
	current time.Time
}

func (m *mockTimeProvider) Now() time.Time                  { return m.current }
func (m *mockTimeProvider) Since(t time.Time) time.Duration { return m.current.Sub(t) }
func (m *mockTimeProvider) advance(d time.Duration)         { m.current = m.current.Add(d) }

func TestSingleFragmentMessage(t *testing.T) {
	a := New(0)

	payload, done, err := a.AddFragment(1, 2, 0, 1, []byte("short message"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("short message"), payload)
	assert.Equal(t, 0, a.Pending())
}

func TestRoundTripOutOfOrder(t *testing.T) {
	// 300 bytes split 128/128/44, delivered in order [1, 0, 2].
	original := make([]byte, 300)
	for i := range original {
		original[i] = byte(i % 251)
	}
	chunks := [][]byte{original[:128], original[128:256], original[256:]}

	a := New(0)

	_, done, err := a.AddFragment(7, 3, 1, 3, chunks[1])
	require.NoError(t, err)
	assert.False(t, done)

	_, done, err = a.AddFragment(7, 3, 0, 3, chunks[0])
	require.NoError(t, err)
	assert.False(t, done)

	payload, done, err := a.AddFragment(7, 3, 2, 3, chunks[2])
	require.NoError(t, err)
	require.True(t, done)
	assert.True(t, bytes.Equal(original, payload))
	assert.Equal(t, 0, a.Pending())
}

func TestDuplicateFragmentIdempotent(t *testing.T) {
	a := New(0)

	_, done, err := a.AddFragment(1, 1, 0, 2, []byte("aa"))
	require.NoError(t, err)
	require.False(t, done)

	// Same fragment again: no completion, no error, no state change.
	_, done, err = a.AddFragment(1, 1, 0, 2, []byte("aa"))
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 1, a.Pending())

	payload, done, err := a.AddFragment(1, 1, 1, 2, []byte("bb"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("aabb"), payload)
}

func TestIndexOutOfRange(t *testing.T) {
	a := New(0)

	_, _, err := a.AddFragment(1, 1, 2, 2, []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	_, _, err = a.AddFragment(1, 1, 0, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestTotalMismatch(t *testing.T) {
	a := New(0)

	_, _, err := a.AddFragment(1, 1, 0, 3, []byte("x"))
	require.NoError(t, err)

	_, _, err = a.AddFragment(1, 1, 1, 4, []byte("y"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTotalMismatch))
	assert.Equal(t, 1, a.Pending())
}

func TestSessionsKeyedBySender(t *testing.T) {
	a := New(0)

	_, done, err := a.AddFragment(1, 10, 0, 2, []byte("from-ten-"))
	require.NoError(t, err)
	require.False(t, done)

	// Same session id, different sender: independent session.
	payload, done, err := a.AddFragment(1, 20, 0, 1, []byte("from-twenty"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("from-twenty"), payload)

	payload, done, err = a.AddFragment(1, 10, 1, 2, []byte("done"))
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, []byte("from-ten-done"), payload)
}

func TestSweepExpired(t *testing.T) {
	clock := &mockTimeProvider{current: time.Unix(1000, 0)}
	a := New(30 * time.Second)
	a.SetTimeProvider(clock)

	_, _, err := a.AddFragment(1, 1, 0, 2, []byte("stale"))
	require.NoError(t, err)

	clock.advance(10 * time.Second)
	_, _, err = a.AddFragment(2, 1, 0, 2, []byte("fresh"))
	require.NoError(t, err)

	clock.advance(25 * time.Second)

	expired := a.SweepExpired()
	require.Len(t, expired, 1)
	assert.Equal(t, SessionKey{Session: 1, Sender: 1}, expired[0])
	assert.True(t, a.Has(2, 1))
	assert.False(t, a.Has(1, 1))
}

func TestSweepResetByActivity(t *testing.T) {
	clock := &mockTimeProvider{current: time.Unix(1000, 0)}
	a := New(30 * time.Second)
	a.SetTimeProvider(clock)

	_, _, err := a.AddFragment(1, 1, 0, 3, []byte("a"))
	require.NoError(t, err)

	clock.advance(20 * time.Second)
	_, _, err = a.AddFragment(1, 1, 1, 3, []byte("b"))
	require.NoError(t, err)

	clock.advance(20 * time.Second)
	assert.Empty(t, a.SweepExpired(), "recent fragment should keep the session alive")
}
