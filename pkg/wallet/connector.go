// Package wallet is the boundary to the user's browser-extension wallet, spoken to as a
// JSON-RPC provider. Connecting always requests permissions before accounts so the wallet
// shows its chooser even on a previously approved origin.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// userRejectedCode is the EIP-1193 error code for a request the user declined
const userRejectedCode = 4001

var (
	// ErrNotAvailable means no wallet provider is installed or reachable
	ErrNotAvailable = errors.New("wallet provider is not available")

	// ErrUserRejected means the user declined the connection request in the wallet; it is
	// safe to show as-is
	ErrUserRejected = errors.New("user rejected request")

	// ErrNoAccounts means the provider approved the request but returned no addresses
	ErrNoAccounts = errors.New("no accounts found")
)

// RPCError is a JSON-RPC error object returned by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Provider abstracts the injected wallet provider's request method.
type Provider interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Binding is a connected wallet address.
type Binding struct {
	Address string
}

// Unit selects the denomination a balance is reported in.
type Unit string

const (
	UnitWei  Unit = "wei"
	UnitGwei Unit = "gwei"
)

var gweiInWei = big.NewInt(1_000_000_000)

type Connector struct {
	provider Provider
}

func NewConnector(provider Provider) *Connector {
	return &Connector{provider: provider}
}

// SelectWallet prompts the user to pick a wallet and returns the selected address. Permissions
// are requested first, then account access; the two-step dance forces the chooser dialog even
// when the origin was approved before. The first returned address wins.
func (c *Connector) SelectWallet(ctx context.Context) (*Binding, error) {
	if c.provider == nil {
		return nil, ErrNotAvailable
	}

	permissionParams := []any{map[string]any{"eth_accounts": map[string]any{}}}
	if _, err := c.provider.Request(ctx, "wallet_requestPermissions", permissionParams); err != nil {
		return nil, mapProviderError(err)
	}

	result, err := c.provider.Request(ctx, "eth_requestAccounts", nil)
	if err != nil {
		return nil, mapProviderError(err)
	}

	var accounts []string
	if err = json.Unmarshal(result, &accounts); err != nil {
		return nil, errors.Wrap(err, "unmarshalling accounts")
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return &Binding{Address: accounts[0]}, nil
}

// Balance returns the on-chain balance of the given address in the requested unit. Gwei
// balances are floored.
func (c *Connector) Balance(ctx context.Context, address string, unit Unit) (*big.Int, error) {
	if c.provider == nil {
		return nil, ErrNotAvailable
	}
	if address == "" {
		return nil, errors.New("address cannot be empty")
	}

	result, err := c.provider.Request(ctx, "eth_getBalance", []any{address, "latest"})
	if err != nil {
		return nil, mapProviderError(err)
	}

	var hexBalance string
	if err = json.Unmarshal(result, &hexBalance); err != nil {
		return nil, errors.Wrap(err, "unmarshalling balance")
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexBalance, "0x"), 16)
	if !ok {
		return nil, errors.Errorf("malformed balance: %s", hexBalance)
	}
	if unit == UnitGwei {
		return wei.Div(wei, gweiInWei), nil
	}
	return wei, nil
}

// mapProviderError surfaces a user rejection as its distinguished error; everything else is
// reported as-is.
func mapProviderError(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == userRejectedCode {
		return ErrUserRejected
	}
	return err
}
