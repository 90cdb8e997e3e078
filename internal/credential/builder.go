// Package credential constructs credential request payloads from the identity facts the flow
// collects. Construction is pure: the same facts always produce a structurally identical
// request, and every required field is validated before a request is handed out.
package credential

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"gopkg.in/go-playground/validator.v9"
	entranslations "gopkg.in/go-playground/validator.v9/translations/en"
)

type Kind string

const (
	KindSocial  Kind = "social"
	KindBalance Kind = "balance"
)

// Schema references and types published by the issuer node for each supported credential kind.
const (
	SocialCredentialSchema  = "ipfs://QmPTH4svBrpsJgm8njs8LeVoKvNXJwbJgoHKS3HqAuSsSn"
	SocialCredentialType    = "SocialCredential"
	BalanceCredentialSchema = "ipfs://QmbgBjetG5V6DecQXTRrJ7s239b4aLydpjgB5Q6tiyZyUi"
	BalanceCredentialType   = "BalanceCredential"

	// DefaultExpiration is the fixed fallback expiration (epoch seconds) applied when neither
	// the caller nor the builder options supply one.
	DefaultExpiration int64 = 1746494466
)

// validate holds the settings and caches for validating fact payloads.
var validate *validator.Validate

// translator is a cache of locale and translation information.
var translator *ut.UniversalTranslator

func init() {
	validate = validator.New()

	enLocale := en.New()
	translator = ut.New(enLocale, enLocale)
	lang, _ := translator.GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(validate, lang)

	// Use JSON tag names for errors instead of Go struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError reports a required fact that is missing or empty, by its wire-level name.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required field %q is missing", e.Field)
}

// Subject is the credentialSubject section of a request payload.
type Subject struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Balance       uint64 `json:"balance,omitempty"`
}

// Request is the wire payload submitted to the issuer's create-claim operation. It is built
// exactly once per flow and never mutated; callers re-derive from fresh facts instead.
type Request struct {
	CredentialSchema  string  `json:"credentialSchema"`
	Type              string  `json:"type"`
	CredentialSubject Subject `json:"credentialSubject"`
	Expiration        int64   `json:"expiration"`
}

// Facts is the tagged union over credential kinds: each concrete fact type knows which kind
// of credential it produces and carries that kind's required fields.
type Facts interface {
	Kind() Kind
}

// SocialFacts are the facts backing a social credential: the authenticated subject, the
// social identity's display name and email, and the bound wallet address.
type SocialFacts struct {
	SubjectID     string `json:"id" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Email         string `json:"email" validate:"required"`
	WalletAddress string `json:"walletAddress" validate:"required"`
	// Expiration overrides the builder's default when non-zero, epoch seconds
	Expiration int64 `json:"expiration,omitempty"`
}

func (SocialFacts) Kind() Kind { return KindSocial }

// BalanceFacts are the facts backing a balance credential: the authenticated subject and the
// wallet's on-chain balance at issuance time.
type BalanceFacts struct {
	SubjectID string `json:"id" validate:"required"`
	Balance   uint64 `json:"balance"`
	// Expiration overrides the builder's default when non-zero, epoch seconds
	Expiration int64 `json:"expiration,omitempty"`
}

func (BalanceFacts) Kind() Kind { return KindBalance }

// Options configure the builder. Zero values fall back to the published schema references
// and the fixed default expiration.
type Options struct {
	SocialSchema      string
	BalanceSchema     string
	DefaultExpiration int64
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.SocialSchema == "" {
		opts.SocialSchema = SocialCredentialSchema
	}
	if opts.BalanceSchema == "" {
		opts.BalanceSchema = BalanceCredentialSchema
	}
	if opts.DefaultExpiration == 0 {
		opts.DefaultExpiration = DefaultExpiration
	}
	return &Builder{opts: opts}
}

// Build validates the given facts and constructs the request payload for their kind.
func (b *Builder) Build(facts Facts) (*Request, error) {
	if err := checkFacts(facts); err != nil {
		return nil, err
	}
	switch f := facts.(type) {
	case SocialFacts:
		return &Request{
			CredentialSchema: b.opts.SocialSchema,
			Type:             SocialCredentialType,
			CredentialSubject: Subject{
				ID:            f.SubjectID,
				Name:          f.Name,
				Email:         f.Email,
				WalletAddress: f.WalletAddress,
			},
			Expiration: b.expiration(f.Expiration),
		}, nil
	case BalanceFacts:
		return &Request{
			CredentialSchema: b.opts.BalanceSchema,
			Type:             BalanceCredentialType,
			CredentialSubject: Subject{
				ID:      f.SubjectID,
				Balance: f.Balance,
			},
			Expiration: b.expiration(f.Expiration),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported credential kind: %s", facts.Kind())
	}
}

func (b *Builder) expiration(override int64) int64 {
	if override != 0 {
		return override
	}
	return b.opts.DefaultExpiration
}

// checkFacts runs tag validation and maps the first failure to a ValidationError carrying the
// offending field's wire name.
func checkFacts(facts Facts) error {
	if err := validate.Struct(facts); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			return &ValidationError{Field: fieldErrs[0].Field()}
		}
		return err
	}
	return nil
}
