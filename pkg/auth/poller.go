// Package auth drives QR-based wallet authentication against an issuer node. The wallet
// completes the challenge out-of-band on another device, so there is no push channel: the
// poller checks the session status on a fixed cadence until the session resolves, fails, or
// is cancelled.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/onchain-issuer/issuance-engine/pkg/issuer"
)

const defaultInterval = 2 * time.Second

var (
	// ErrInvalidIssuer is returned when a challenge is requested without an issuer selection.
	ErrInvalidIssuer = errors.New("issuer is not defined")

	// ErrPollingExhausted terminates a session after the configured attempt budget runs out.
	ErrPollingExhausted = errors.New("auth session polling exhausted its attempt budget")
)

// Challenger is the slice of the issuer client the poller depends on.
type Challenger interface {
	RequestAuthChallenge(ctx context.Context, issuerID string) (*issuer.AuthChallenge, error)
	GetAuthSessionStatus(ctx context.Context, sessionID string) (*issuer.SessionStatus, error)
}

// Options tune the polling cadence. The zero value polls every 2 seconds, forever, on the
// wall clock.
type Options struct {
	// Interval between status checks
	Interval time.Duration
	// MaxAttempts bounds the number of "not yet" outcomes before the session fails with
	// ErrPollingExhausted; 0 polls indefinitely
	MaxAttempts int
	// Clock drives check scheduling; tests inject a mock
	Clock clock.Clock
}

type Poller struct {
	client      Challenger
	interval    time.Duration
	maxAttempts int
	clock       clock.Clock
}

func NewPoller(client Challenger, opts Options) (*Poller, error) {
	if client == nil {
		return nil, errors.New("client cannot be empty")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Poller{
		client:      client,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		clock:       opts.Clock,
	}, nil
}

// Begin requests a fresh QR challenge from the issuer and returns the pending session to poll on.
func (p *Poller) Begin(ctx context.Context, issuerID string) (*Session, error) {
	if issuerID == "" {
		return nil, ErrInvalidIssuer
	}
	challenge, err := p.client.RequestAuthChallenge(ctx, issuerID)
	if err != nil {
		return nil, errors.Wrap(err, "requesting auth challenge")
	}
	logrus.Debugf("auth challenge created, session<%s>", challenge.SessionID)
	return newSession(challenge.SessionID, challenge.QRPayload), nil
}

// Handle controls a running polling loop.
type Handle struct {
	cancelOnce sync.Once
	cancelled  chan struct{}
	finished   chan struct{}
}

// Cancel stops the polling loop. It is idempotent and safe to call after the loop already
// terminated naturally.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

// Done is closed once the polling loop has fully stopped, whatever the reason.
func (h *Handle) Done() <-chan struct{} {
	return h.finished
}

// Poll watches the session until it terminates. Exactly one of onResolved and onFailed fires,
// at most once, across the session's lifetime; a cancelled session fires neither. Status
// checks are strictly sequential: the next check is scheduled only after the previous one
// returned, so checks never overlap and cannot resolve out of order.
func (p *Poller) Poll(ctx context.Context, session *Session, onResolved func(subjectID string), onFailed func(err error)) *Handle {
	handle := &Handle{
		cancelled: make(chan struct{}),
		finished:  make(chan struct{}),
	}
	go p.run(ctx, session, handle, onResolved, onFailed)
	return handle
}

func (p *Poller) run(ctx context.Context, session *Session, handle *Handle, onResolved func(string), onFailed func(error)) {
	defer close(handle.finished)

	timer := p.clock.Timer(p.interval)
	defer timer.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			session.transition(StateCancelled)
			return
		case <-handle.cancelled:
			session.transition(StateCancelled)
			return
		case <-timer.C:
		}

		status, err := p.client.GetAuthSessionStatus(ctx, session.ID)
		switch {
		case err == nil:
			if session.resolve(status.ID) {
				logrus.Debugf("auth session<%s> resolved", session.ID)
				onResolved(status.ID)
			}
			return
		case errors.Is(err, issuer.ErrSessionNotFound):
			// the wallet has not completed the challenge yet; keep waiting
			attempts++
			if p.maxAttempts > 0 && attempts >= p.maxAttempts {
				if session.transition(StateFailed) {
					onFailed(ErrPollingExhausted)
				}
				return
			}
			timer.Reset(p.interval)
		default:
			if session.transition(StateFailed) {
				logrus.WithError(err).Debugf("auth session<%s> failed", session.ID)
				onFailed(err)
			}
			return
		}
	}
}
