package wallet

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/onchain-issuer/issuance-engine/internal/util"
)

// RPCProvider speaks JSON-RPC 2.0 over HTTP to a wallet provider endpoint (a local wallet
// bridge or node exposing the provider API).
type RPCProvider struct {
	endpoint string
	client   *http.Client
	nextID   uint64
}

var _ Provider = (*RPCProvider)(nil)

func NewRPCProvider(endpoint string, httpClient *http.Client) (*RPCProvider, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint cannot be empty")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RPCProvider{endpoint: endpoint, client: httpClient}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (p *RPCProvider) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&p.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrapf(err, "building %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// an unreachable provider means no wallet is available
		return nil, errors.Wrapf(ErrNotAvailable, "%s: %v", method, err)
	}
	defer resp.Body.Close()
	if !util.Is2xxResponse(resp.StatusCode) {
		return nil, errors.Errorf("%s failed with status %d", method, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s response", method)
	}
	var rpcResp rpcResponse
	if err = json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling %s response", method)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}
