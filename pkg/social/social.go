// Package social links a social (OAuth) identity to the flow. The sign-in is redirect-based:
// the user is sent to the provider's consent page and comes back to a loopback callback
// endpoint, with the original user identifier carried forward through the round trip.
package social

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/onchain-issuer/issuance-engine/internal/util"
)

// Identity is the social identity linked to a flow subject.
type Identity struct {
	// Subject is the user identifier the sign-in was started for, carried through the redirect
	Subject string
	Name    string
	Email   string
}

// Verifier asserts a social identity for the given flow subject. Implementations block until
// the sign-in completes or ctx is done.
type Verifier interface {
	SignIn(ctx context.Context, subject string) (*Identity, error)
}

// OAuthOptions configure the redirect-based OAuth verifier.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// RedirectURL is the registered callback, e.g. http://localhost:9876/callback
	RedirectURL string
	// ListenAddr is the loopback address the callback server binds, e.g. 127.0.0.1:9876
	ListenAddr string
}

// OAuthVerifier runs an authorization-code sign-in with a loopback callback listener.
type OAuthVerifier struct {
	cfg        *oauth2.Config
	listenAddr string

	// exchange is swapped out in tests to avoid a live token endpoint
	exchange func(ctx context.Context, code string) (*oauth2.Token, error)
}

var _ Verifier = (*OAuthVerifier)(nil)

func NewOAuthVerifier(opts OAuthOptions) (*OAuthVerifier, error) {
	if opts.ClientID == "" {
		return nil, errors.New("clientID cannot be empty")
	}
	if opts.AuthURL == "" || opts.TokenURL == "" {
		return nil, errors.New("provider endpoints cannot be empty")
	}
	if opts.RedirectURL == "" || opts.ListenAddr == "" {
		return nil, errors.New("callback configuration cannot be empty")
	}
	cfg := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.AuthURL,
			TokenURL: opts.TokenURL,
		},
	}
	v := &OAuthVerifier{cfg: cfg, listenAddr: opts.ListenAddr}
	v.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return cfg.Exchange(ctx, code)
	}
	return v, nil
}

type callbackResult struct {
	identity *Identity
	err      error
}

// SignIn sends the user to the provider's consent page and waits for the callback. The state
// parameter carries a nonce plus the subject identifier, and the callback rejects responses
// whose state does not round-trip.
func (v *OAuthVerifier) SignIn(ctx context.Context, subject string) (*Identity, error) {
	if subject == "" {
		return nil, errors.New("subject cannot be empty")
	}

	state := uuid.NewString() + "." + subject
	results := make(chan callbackResult, 1)

	router := gin.New()
	router.Use(gin.Recovery(), cors.Default())
	router.GET("/callback", v.callbackHandler(state, results))

	server := &http.Server{
		Addr:              v.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callbackResult{err: errors.Wrap(err, "callback listener")}
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("shutting down callback listener")
		}
	}()

	logrus.Infof("open the sign-in page to continue: %s", util.SanitizeLog(v.cfg.AuthCodeURL(state)))

	select {
	case result := <-results:
		return result.identity, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *OAuthVerifier) callbackHandler(wantState string, results chan<- callbackResult) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := v.handleCallback(c.Request.Context(), wantState, c.Query("state"), c.Query("code"))
		if err != nil {
			c.String(http.StatusBadRequest, "sign-in failed: %v", err)
			deliver(results, callbackResult{err: err})
			return
		}
		c.String(http.StatusOK, "Signed in as %s. You may close this tab.", identity.Email)
		deliver(results, callbackResult{identity: identity})
	}
}

func (v *OAuthVerifier) handleCallback(ctx context.Context, wantState, gotState, code string) (*Identity, error) {
	if gotState != wantState {
		return nil, errors.New("state parameter mismatch")
	}
	if code == "" {
		return nil, errors.New("callback missing authorization code")
	}
	token, err := v.exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging authorization code")
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response missing id_token")
	}
	subject := subjectFromState(wantState)
	return identityFromIDToken(rawIDToken, subject)
}

func subjectFromState(state string) string {
	_, subject, found := strings.Cut(state, ".")
	if !found {
		return ""
	}
	return subject
}

// deliver hands a result to the waiting SignIn; only the first result per sign-in counts.
func deliver(results chan<- callbackResult, result callbackResult) {
	select {
	case results <- result:
	default:
	}
}
