// Package identity carries the cross-step identity facts a flow accumulates: the issuer the
// user selected on entry and the wallet address bound in the connect step. Both write through
// to persisted storage so a flow survives a full restart, and both are cleared only by an
// explicit logout.
package identity

import (
	"github.com/pkg/errors"

	"github.com/onchain-issuer/issuance-engine/pkg/storage"
)

const (
	namespace = "identity"

	selectedIssuerKey = "selectedIssuer"
	walletAddressKey  = "walletAddress"
)

// ErrWalletBound is returned when a wallet address is set while another one is already bound.
// Re-binding mid-flow is not allowed; logout clears the binding.
var ErrWalletBound = errors.New("wallet address already bound")

// Context holds the hydrated identity state for one flow. It is constructed explicitly and
// passed to whoever needs it; there is no package-level instance.
type Context struct {
	store storage.Store

	issuer        string
	walletAddress string
}

// NewContext hydrates a Context from the given store.
func NewContext(store storage.Store) (*Context, error) {
	if store == nil {
		return nil, errors.New("store cannot be empty")
	}
	issuer, err := store.Read(namespace, selectedIssuerKey)
	if err != nil {
		return nil, errors.Wrap(err, "reading selected issuer")
	}
	wallet, err := store.Read(namespace, walletAddressKey)
	if err != nil {
		return nil, errors.Wrap(err, "reading wallet address")
	}
	return &Context{
		store:         store,
		issuer:        string(issuer),
		walletAddress: string(wallet),
	}, nil
}

// Issuer returns the selected issuer id, empty when none has been selected.
func (c *Context) Issuer() string {
	return c.issuer
}

// SetIssuer records an explicit issuer selection and writes it through to storage.
// An empty value clears the selection.
func (c *Context) SetIssuer(issuer string) error {
	if issuer == "" {
		if err := c.store.Write(namespace, selectedIssuerKey, nil); err != nil {
			return errors.Wrap(err, "clearing selected issuer")
		}
		c.issuer = ""
		return nil
	}
	if err := c.store.Write(namespace, selectedIssuerKey, []byte(issuer)); err != nil {
		return errors.Wrap(err, "persisting selected issuer")
	}
	c.issuer = issuer
	return nil
}

// WalletAddress returns the bound wallet address, empty when no wallet has been connected.
func (c *Context) WalletAddress() string {
	return c.walletAddress
}

// SetWalletAddress binds the connected wallet address and writes it through to storage.
// The binding is immutable for the remainder of the flow.
func (c *Context) SetWalletAddress(address string) error {
	if address == "" {
		return errors.New("wallet address cannot be empty")
	}
	if c.walletAddress != "" && c.walletAddress != address {
		return ErrWalletBound
	}
	if err := c.store.Write(namespace, walletAddressKey, []byte(address)); err != nil {
		return errors.Wrap(err, "persisting wallet address")
	}
	c.walletAddress = address
	return nil
}

// Logout clears every persisted identity fact. It is the only cross-cutting clear in the flow.
func (c *Context) Logout() error {
	if err := c.store.DeleteNamespace(namespace); err != nil {
		return errors.Wrap(err, "clearing identity state")
	}
	c.issuer = ""
	c.walletAddress = ""
	return nil
}
