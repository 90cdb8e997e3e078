package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchain-issuer/issuance-engine/pkg/issuer"
)

const testInterval = 2 * time.Second

// scriptedChallenger plays back a fixed sequence of status outcomes and counts checks.
type scriptedChallenger struct {
	mu       sync.Mutex
	statuses []statusOutcome
	checks   int32

	challengeErr error
}

type statusOutcome struct {
	status *issuer.SessionStatus
	err    error
}

func (s *scriptedChallenger) RequestAuthChallenge(_ context.Context, issuerID string) (*issuer.AuthChallenge, error) {
	if s.challengeErr != nil {
		return nil, s.challengeErr
	}
	return &issuer.AuthChallenge{
		SessionID: "sess-1",
		QRPayload: json.RawMessage(`{"typ":"application/iden3comm-plain-json"}`),
	}, nil
}

func (s *scriptedChallenger) GetAuthSessionStatus(context.Context, string) (*issuer.SessionStatus, error) {
	atomic.AddInt32(&s.checks, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return nil, issuer.ErrSessionNotFound
	}
	next := s.statuses[0]
	s.statuses = s.statuses[1:]
	return next.status, next.err
}

func (s *scriptedChallenger) checkCount() int {
	return int(atomic.LoadInt32(&s.checks))
}

func newTestPoller(t *testing.T, challenger Challenger, mockClock clock.Clock) *Poller {
	poller, err := NewPoller(challenger, Options{Interval: testInterval, Clock: mockClock})
	require.NoError(t, err)
	return poller
}

// advance ticks the mock clock until the condition holds; scheduling between the clock and
// the polling goroutine is nondeterministic, so each attempt advances one more interval.
func advance(t *testing.T, mockClock *clock.Mock, condition func() bool) {
	require.Eventually(t, func() bool {
		mockClock.Add(testInterval)
		return condition()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBegin(t *testing.T) {
	t.Run("empty issuer fails without a challenge request", func(tt *testing.T) {
		poller := newTestPoller(tt, &scriptedChallenger{}, clock.NewMock())

		session, err := poller.Begin(context.Background(), "")
		assert.ErrorIs(tt, err, ErrInvalidIssuer)
		assert.Empty(tt, session)
	})

	t.Run("non-empty issuer returns a pending session", func(tt *testing.T) {
		poller := newTestPoller(tt, &scriptedChallenger{}, clock.NewMock())

		session, err := poller.Begin(context.Background(), "abc")
		assert.NoError(tt, err)
		assert.Equal(tt, "sess-1", session.ID)
		assert.Equal(tt, StatePending, session.State())
		assert.NotEmpty(tt, session.QRPayload)
	})

	t.Run("challenge failure propagates", func(tt *testing.T) {
		poller := newTestPoller(tt, &scriptedChallenger{challengeErr: errors.New("boom")}, clock.NewMock())

		session, err := poller.Begin(context.Background(), "abc")
		assert.Error(tt, err)
		assert.Empty(tt, session)
		assert.Contains(tt, err.Error(), "requesting auth challenge")
	})
}

func TestPollResolves(t *testing.T) {
	// two "not yet" outcomes, then the subject identity appears
	challenger := &scriptedChallenger{statuses: []statusOutcome{
		{err: issuer.ErrSessionNotFound},
		{err: issuer.ErrSessionNotFound},
		{status: &issuer.SessionStatus{ID: "u1"}},
	}}
	mockClock := clock.NewMock()
	poller := newTestPoller(t, challenger, mockClock)

	session, err := poller.Begin(context.Background(), "abc")
	require.NoError(t, err)

	var resolved int32
	var failed int32
	var subject atomic.Value
	handle := poller.Poll(context.Background(), session,
		func(subjectID string) {
			atomic.AddInt32(&resolved, 1)
			subject.Store(subjectID)
		},
		func(error) { atomic.AddInt32(&failed, 1) },
	)

	advance(t, mockClock, func() bool { return session.State() == StateResolved })
	<-handle.Done()

	assert.Equal(t, 3, challenger.checkCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&resolved))
	assert.Equal(t, int32(0), atomic.LoadInt32(&failed))
	assert.Equal(t, "u1", subject.Load())
	assert.Equal(t, "u1", session.SubjectID())

	// a resolved session is terminal; more ticks trigger no further checks
	mockClock.Add(10 * testInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, challenger.checkCount())
}

func TestPollFails(t *testing.T) {
	opErr := &issuer.OperationError{Operation: "check session status", StatusCode: 502}
	challenger := &scriptedChallenger{statuses: []statusOutcome{{err: opErr}}}
	mockClock := clock.NewMock()
	poller := newTestPoller(t, challenger, mockClock)

	session, err := poller.Begin(context.Background(), "abc")
	require.NoError(t, err)

	var resolved int32
	var failed int32
	var gotErr atomic.Value
	handle := poller.Poll(context.Background(), session,
		func(string) { atomic.AddInt32(&resolved, 1) },
		func(err error) {
			atomic.AddInt32(&failed, 1)
			gotErr.Store(err)
		},
	)

	advance(t, mockClock, func() bool { return session.State() == StateFailed })
	<-handle.Done()

	assert.Equal(t, int32(0), atomic.LoadInt32(&resolved))
	assert.Equal(t, int32(1), atomic.LoadInt32(&failed))
	assert.Equal(t, opErr, gotErr.Load())

	mockClock.Add(10 * testInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, challenger.checkCount())
}

func TestPollCancel(t *testing.T) {
	challenger := &scriptedChallenger{}
	mockClock := clock.NewMock()
	poller := newTestPoller(t, challenger, mockClock)

	session, err := poller.Begin(context.Background(), "abc")
	require.NoError(t, err)

	var callbacks int32
	handle := poller.Poll(context.Background(), session,
		func(string) { atomic.AddInt32(&callbacks, 1) },
		func(error) { atomic.AddInt32(&callbacks, 1) },
	)

	// let at least one "not yet" check happen, then cancel
	advance(t, mockClock, func() bool { return challenger.checkCount() >= 1 })
	handle.Cancel()
	<-handle.Done()

	assert.Equal(t, StateCancelled, session.State())

	// no further checks occur after cancellation
	checksAtCancel := challenger.checkCount()
	mockClock.Add(10 * testInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, checksAtCancel, challenger.checkCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&callbacks))

	// cancel is idempotent after natural termination
	handle.Cancel()
	handle.Cancel()
}

func TestPollContextCancellation(t *testing.T) {
	challenger := &scriptedChallenger{}
	mockClock := clock.NewMock()
	poller := newTestPoller(t, challenger, mockClock)

	session, err := poller.Begin(context.Background(), "abc")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var callbacks int32
	handle := poller.Poll(ctx, session,
		func(string) { atomic.AddInt32(&callbacks, 1) },
		func(error) { atomic.AddInt32(&callbacks, 1) },
	)

	cancel()
	<-handle.Done()

	assert.Equal(t, StateCancelled, session.State())
	assert.Equal(t, int32(0), atomic.LoadInt32(&callbacks))
}

func TestPollMaxAttempts(t *testing.T) {
	challenger := &scriptedChallenger{}
	mockClock := clock.NewMock()
	poller, err := NewPoller(challenger, Options{Interval: testInterval, Clock: mockClock, MaxAttempts: 3})
	require.NoError(t, err)

	session, err := poller.Begin(context.Background(), "abc")
	require.NoError(t, err)

	var gotErr atomic.Value
	handle := poller.Poll(context.Background(), session,
		func(string) {},
		func(err error) { gotErr.Store(err) },
	)

	advance(t, mockClock, func() bool { return session.State() == StateFailed })
	<-handle.Done()

	assert.Equal(t, 3, challenger.checkCount())
	assert.ErrorIs(t, gotErr.Load().(error), ErrPollingExhausted)
}
