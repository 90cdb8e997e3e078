// Package flow sequences the five self-issuance steps: authenticate a decentralized identity,
// connect a wallet, link a social identity, submit the credential request, and accept the
// resulting offer. The flow position and every accumulated fact live in an explicit state
// object; prerequisite guards redirect to the earliest unmet step instead of erroring, so a
// flow resumes cleanly from persisted facts after a restart.
package flow

import (
	"context"
	"math/big"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/onchain-issuer/issuance-engine/internal/credential"
	"github.com/onchain-issuer/issuance-engine/internal/util"
	"github.com/onchain-issuer/issuance-engine/pkg/auth"
	"github.com/onchain-issuer/issuance-engine/pkg/identity"
	"github.com/onchain-issuer/issuance-engine/pkg/issuer"
	"github.com/onchain-issuer/issuance-engine/pkg/social"
	"github.com/onchain-issuer/issuance-engine/pkg/wallet"
)

type Step string

const (
	StepSelectIssuer  Step = "select-issuer"
	StepAuthenticate  Step = "authenticate"
	StepConnectWallet Step = "connect-wallet"
	StepLinkSocial    Step = "link-social"
	StepReview        Step = "review"
	StepAcceptOffer   Step = "accept-offer"
	StepDone          Step = "done"
)

// ErrMissingPrerequisite is returned when an action is attempted without the facts it needs;
// step entry never returns it, only explicit actions like submission do.
var ErrMissingPrerequisite = errors.New("missing prerequisite")

// Submitter is the slice of the issuer client the orchestrator needs past authentication.
type Submitter interface {
	CreateClaim(ctx context.Context, issuerID string, request any) (*issuer.CreateClaimResponse, error)
	GetCredentialOffer(ctx context.Context, issuerID, subject, claimID string) (json.RawMessage, error)
}

// Connector is the wallet boundary the connect step drives.
type Connector interface {
	SelectWallet(ctx context.Context) (*wallet.Binding, error)
	Balance(ctx context.Context, address string, unit wallet.Unit) (*big.Int, error)
}

// draftKey is the fact tuple a built draft is memoized against; a draft is re-derived, never
// mutated, when any of these change.
type draftKey struct {
	subjectID     string
	socialName    string
	socialEmail   string
	walletAddress string
}

// state is the accumulated flow state. Issuer selection and wallet binding live in the
// identity context (persisted); everything else is re-derived on a fresh run.
type state struct {
	step           Step
	subjectID      string
	socialIdentity *social.Identity
	claimID        string
	offer          json.RawMessage

	draft    *credential.Request
	draftFor draftKey
}

type Options struct {
	// Kind selects the credential to issue; defaults to the social kind
	Kind credential.Kind
}

type Orchestrator struct {
	identity  *identity.Context
	poller    *auth.Poller
	submitter Submitter
	connector Connector
	verifier  social.Verifier
	builder   *credential.Builder

	kind  credential.Kind
	state state
}

func NewOrchestrator(identityCtx *identity.Context, poller *auth.Poller, submitter Submitter,
	connector Connector, verifier social.Verifier, builder *credential.Builder, opts Options) (*Orchestrator, error) {
	if identityCtx == nil {
		return nil, errors.New("identity context cannot be empty")
	}
	if poller == nil {
		return nil, errors.New("poller cannot be empty")
	}
	if submitter == nil {
		return nil, errors.New("submitter cannot be empty")
	}
	if connector == nil {
		return nil, errors.New("connector cannot be empty")
	}
	if verifier == nil {
		return nil, errors.New("verifier cannot be empty")
	}
	if builder == nil {
		return nil, errors.New("builder cannot be empty")
	}
	if opts.Kind == "" {
		opts.Kind = credential.KindSocial
	}
	return &Orchestrator{
		identity:  identityCtx,
		poller:    poller,
		submitter: submitter,
		connector: connector,
		verifier:  verifier,
		builder:   builder,
		kind:      opts.Kind,
		state:     state{step: StepSelectIssuer},
	}, nil
}

// CurrentStep is the flow position; rendering is a projection of this.
func (o *Orchestrator) CurrentStep() Step {
	return o.state.step
}

// SubjectID is the authenticated subject, empty before the authenticate step resolves.
func (o *Orchestrator) SubjectID() string {
	return o.state.subjectID
}

// ClaimID is the issued claim's id, empty before submission.
func (o *Orchestrator) ClaimID() string {
	return o.state.claimID
}

// resolve walks the flow's prerequisites in order and returns the earliest step whose
// prerequisite is unmet, or the requested step when all of them hold.
func (o *Orchestrator) resolve(step Step) Step {
	if step == StepSelectIssuer {
		return step
	}
	if o.identity.Issuer() == "" {
		return StepSelectIssuer
	}
	if step == StepAuthenticate {
		return step
	}
	if o.state.subjectID == "" {
		return StepAuthenticate
	}
	if step == StepConnectWallet {
		return step
	}
	// the social step checks the persisted binding, not in-memory state
	if o.identity.WalletAddress() == "" {
		return StepConnectWallet
	}
	if step == StepLinkSocial {
		return step
	}
	if o.state.socialIdentity == nil {
		return StepLinkSocial
	}
	if step == StepReview {
		return step
	}
	if o.state.claimID == "" {
		return StepReview
	}
	return step
}

// redirected moves the flow to the earliest unmet-prerequisite step when the requested step
// is not reachable. The redirect is silent: it is a navigation outcome, not an error.
func (o *Orchestrator) redirected(step Step) bool {
	target := o.resolve(step)
	if target == step {
		o.state.step = step
		return false
	}
	logrus.Debugf("step %s has unmet prerequisites, redirecting to %s", step, target)
	o.state.step = target
	return true
}

// SelectIssuer records the user's issuer selection and enters the flow.
func (o *Orchestrator) SelectIssuer(issuerID string) error {
	if issuerID == "" {
		return auth.ErrInvalidIssuer
	}
	if err := o.identity.SetIssuer(issuerID); err != nil {
		return err
	}
	o.state.step = StepAuthenticate
	return nil
}

// Authenticate requests a QR challenge, hands the payload to display, and blocks until the
// out-of-band wallet resolves the session, the session fails, or ctx is cancelled. On success
// the subject identity is carried into the flow state.
func (o *Orchestrator) Authenticate(ctx context.Context, display func(qrPayload json.RawMessage)) error {
	if o.redirected(StepAuthenticate) {
		return nil
	}

	session, err := o.poller.Begin(ctx, o.identity.Issuer())
	if err != nil {
		return err
	}
	if display != nil {
		display(session.QRPayload)
	}

	resolved := make(chan string, 1)
	failed := make(chan error, 1)
	handle := o.poller.Poll(ctx, session,
		func(subjectID string) { resolved <- subjectID },
		func(err error) { failed <- err },
	)
	defer handle.Cancel()

	select {
	case subjectID := <-resolved:
		o.state.subjectID = subjectID
		o.state.step = StepConnectWallet
		logrus.Infof("authenticated subject<%s>", subjectID)
		return nil
	case err = <-failed:
		return util.LoggingErrorMsg(err, "authentication failed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectWallet binds a wallet address to the flow. A binding persisted by an earlier run is
// reused; otherwise the wallet chooser is driven and the selected address persisted.
func (o *Orchestrator) ConnectWallet(ctx context.Context) error {
	if o.redirected(StepConnectWallet) {
		return nil
	}

	if o.identity.WalletAddress() == "" {
		binding, err := o.connector.SelectWallet(ctx)
		if err != nil {
			return err
		}
		if err = o.identity.SetWalletAddress(binding.Address); err != nil {
			return err
		}
		logrus.Infof("wallet connected: %s", binding.Address)
	}
	o.state.step = StepLinkSocial
	return nil
}

// LinkSocial runs the redirect-based social sign-in for the authenticated subject.
func (o *Orchestrator) LinkSocial(ctx context.Context) error {
	if o.redirected(StepLinkSocial) {
		return nil
	}

	socialIdentity, err := o.verifier.SignIn(ctx, o.state.subjectID)
	if err != nil {
		return err
	}
	o.state.socialIdentity = socialIdentity
	o.state.step = StepReview
	return nil
}

// Draft builds the credential request from the collected facts. The draft is memoized
// against the current fact tuple: repeated calls return the identical draft, and a changed
// fact re-derives it rather than mutating the old one.
func (o *Orchestrator) Draft(ctx context.Context) (*credential.Request, error) {
	if o.redirected(StepReview) {
		return nil, nil
	}

	key := draftKey{
		subjectID:     o.state.subjectID,
		socialName:    o.state.socialIdentity.Name,
		socialEmail:   o.state.socialIdentity.Email,
		walletAddress: o.identity.WalletAddress(),
	}
	if o.state.draft != nil && o.state.draftFor == key {
		return o.state.draft, nil
	}

	facts, err := o.collectFacts(ctx, key)
	if err != nil {
		return nil, err
	}
	draft, err := o.builder.Build(facts)
	if err != nil {
		return nil, err
	}
	o.state.draft = draft
	o.state.draftFor = key
	return draft, nil
}

func (o *Orchestrator) collectFacts(ctx context.Context, key draftKey) (credential.Facts, error) {
	switch o.kind {
	case credential.KindBalance:
		balance, err := o.connector.Balance(ctx, key.walletAddress, wallet.UnitWei)
		if err != nil {
			return nil, errors.Wrap(err, "fetching wallet balance")
		}
		return credential.BalanceFacts{SubjectID: key.subjectID, Balance: balance.Uint64()}, nil
	default:
		return credential.SocialFacts{
			SubjectID:     key.subjectID,
			Name:          key.socialName,
			Email:         key.socialEmail,
			WalletAddress: key.walletAddress,
		}, nil
	}
}

// Submit sends the built draft to the selected issuer and records the claim id. Both the
// draft and the issuer selection must be present; nothing goes on the wire otherwise.
func (o *Orchestrator) Submit(ctx context.Context) error {
	if o.state.draft == nil || o.identity.Issuer() == "" {
		return errors.Wrap(ErrMissingPrerequisite, "credential draft and issuer selection are required")
	}

	created, err := o.submitter.CreateClaim(ctx, o.identity.Issuer(), o.state.draft)
	if err != nil {
		return err
	}
	if created.ID == "" {
		return util.LoggingNewError("issuer returned an empty claim id")
	}
	o.state.claimID = created.ID
	o.state.step = StepAcceptOffer
	logrus.Infof("claim created: %s", created.ID)
	return nil
}

// FetchOffer retrieves the claimable offer for the issued claim, once; subsequent calls
// return the same payload.
func (o *Orchestrator) FetchOffer(ctx context.Context) (json.RawMessage, error) {
	if o.redirected(StepAcceptOffer) {
		return nil, nil
	}

	if o.state.offer != nil {
		return o.state.offer, nil
	}
	offer, err := o.submitter.GetCredentialOffer(ctx, o.identity.Issuer(), o.state.subjectID, o.state.claimID)
	if err != nil {
		return nil, err
	}
	o.state.offer = offer
	o.state.step = StepDone
	return offer, nil
}

// Logout clears every persisted identity fact and resets the flow to its entry step.
func (o *Orchestrator) Logout() error {
	if err := o.identity.Logout(); err != nil {
		return err
	}
	o.state = state{step: StepSelectIssuer}
	return nil
}
