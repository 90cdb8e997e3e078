// Package issuer is the typed HTTP boundary to the on-chain issuer node. Each operation maps
// 1:1 to a single HTTP call and never retries internally; retry cadence belongs to the auth
// polling loop.
package issuer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/onchain-issuer/issuance-engine/internal/util"
)

const (
	// sessionIDHeader carries the auth session correlation token on the challenge response
	sessionIDHeader = "X-Id"

	issuersPath       = "/api/v1/issuers"
	authRequestPath   = "/api/v1/requests/auth"
	sessionStatusPath = "/api/v1/status"
	claimsPathFmt     = "/api/v1/identities/%s/claims"
	claimOfferPathFmt = "/api/v1/identities/%s/claims/offer"
)

// ErrSessionNotFound is the distinguished "not yet" outcome of a session status check: the
// wallet has not completed the challenge. It is expected during polling and must never be
// surfaced as a user-facing failure.
var ErrSessionNotFound = errors.New("auth session not found")

// OperationError is a non-2xx response from the issuer node, tagged with the failing operation.
type OperationError struct {
	Operation  string
	StatusCode int
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("issuer operation %s failed with status %d", e.Operation, e.StatusCode)
}

// AuthChallenge is a fresh QR authentication challenge plus the session handle to poll on.
type AuthChallenge struct {
	SessionID string
	QRPayload json.RawMessage
}

// SessionStatus reports a completed auth session; ID is the authenticated subject identifier.
type SessionStatus struct {
	ID string `json:"id"`
}

// CreateClaimResponse carries the id of a newly created claim.
type CreateClaimResponse struct {
	ID string `json:"id"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a client for the issuer node at baseURL. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "invalid baseURL")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, client: httpClient}, nil
}

// ListIssuers returns the identifiers of all issuers the node can issue on behalf of.
func (c *Client) ListIssuers(ctx context.Context) ([]string, error) {
	respBody, _, err := c.get(ctx, "list issuers", c.baseURL+issuersPath)
	if err != nil {
		return nil, err
	}
	var issuers []string
	if err = json.Unmarshal(respBody, &issuers); err != nil {
		return nil, errors.Wrap(err, "unmarshalling issuers list")
	}
	return issuers, nil
}

// RequestAuthChallenge asks the issuer node for a fresh QR authentication challenge. The
// response body is the opaque QR payload; the session correlation token rides in a header.
func (c *Client) RequestAuthChallenge(ctx context.Context, issuer string) (*AuthChallenge, error) {
	if issuer == "" {
		return nil, errors.New("issuer cannot be empty")
	}
	challengeURL := fmt.Sprintf("%s%s?issuer=%s", c.baseURL, authRequestPath, url.QueryEscape(issuer))
	respBody, header, err := c.get(ctx, "request auth challenge", challengeURL)
	if err != nil {
		return nil, err
	}
	sessionID := header.Get(sessionIDHeader)
	if sessionID == "" {
		return nil, errors.Errorf("auth challenge response missing %s header", sessionIDHeader)
	}
	return &AuthChallenge{SessionID: sessionID, QRPayload: respBody}, nil
}

// GetAuthSessionStatus checks whether the auth session has been completed by the wallet.
// A not-found session is reported as ErrSessionNotFound, which callers treat as "keep waiting".
func (c *Client) GetAuthSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID cannot be empty")
	}
	const op = "check session status"
	statusURL := fmt.Sprintf("%s%s?id=%s", c.baseURL, sessionStatusPath, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: building request", op)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if !util.Is2xxResponse(resp.StatusCode) {
		return nil, &OperationError{Operation: op, StatusCode: resp.StatusCode}
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: reading response", op)
	}
	var status SessionStatus
	if err = json.Unmarshal(respBody, &status); err != nil {
		return nil, errors.Wrapf(err, "%s: unmarshalling response", op)
	}
	return &status, nil
}

// CreateClaim submits a credential request to the given issuer and returns the new claim id.
func (c *Client) CreateClaim(ctx context.Context, issuer string, request any) (*CreateClaimResponse, error) {
	if issuer == "" {
		return nil, errors.New("issuer cannot be empty")
	}
	const op = "create claim"
	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: marshalling request", op)
	}
	claimsURL := c.baseURL + fmt.Sprintf(claimsPathFmt, url.PathEscape(issuer))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimsURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: building request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer resp.Body.Close()
	if !util.Is2xxResponse(resp.StatusCode) {
		return nil, &OperationError{Operation: op, StatusCode: resp.StatusCode}
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: reading response", op)
	}
	var created CreateClaimResponse
	if err = json.Unmarshal(respBody, &created); err != nil {
		return nil, errors.Wrapf(err, "%s: unmarshalling response", op)
	}
	return &created, nil
}

// GetCredentialOffer fetches the claimable offer for a previously created claim. The offer is
// issuer-defined and returned opaque.
func (c *Client) GetCredentialOffer(ctx context.Context, issuer, subject, claimID string) (json.RawMessage, error) {
	if issuer == "" || subject == "" || claimID == "" {
		return nil, errors.New("issuer, subject and claimID are all required")
	}
	offerURL := fmt.Sprintf("%s%s?subject=%s&claimId=%s",
		c.baseURL, fmt.Sprintf(claimOfferPathFmt, url.PathEscape(issuer)),
		url.QueryEscape(subject), url.QueryEscape(claimID))
	respBody, _, err := c.get(ctx, "fetch credential offer", offerURL)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// get performs a GET against the given URL and returns the body and headers of a 2xx response.
func (c *Client) get(ctx context.Context, op, requestURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s: building request", op)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, op)
	}
	defer resp.Body.Close()
	if !util.Is2xxResponse(resp.StatusCode) {
		return nil, nil, &OperationError{Operation: op, StatusCode: resp.StatusCode}
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s: reading response", op)
	}
	return respBody, resp.Header, nil
}
