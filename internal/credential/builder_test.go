package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSocialCredential(t *testing.T) {
	builder := NewBuilder(Options{})

	t.Run("all facts present produces a complete request", func(tt *testing.T) {
		request, err := builder.Build(SocialFacts{
			SubjectID:     "u1",
			Name:          "Jane",
			Email:         "j@x.com",
			WalletAddress: "0xDEAD",
		})
		assert.NoError(tt, err)
		assert.Equal(tt, SocialCredentialSchema, request.CredentialSchema)
		assert.Equal(tt, SocialCredentialType, request.Type)
		assert.Equal(tt, "u1", request.CredentialSubject.ID)
		assert.Equal(tt, "Jane", request.CredentialSubject.Name)
		assert.Equal(tt, "j@x.com", request.CredentialSubject.Email)
		assert.Equal(tt, "0xDEAD", request.CredentialSubject.WalletAddress)
		assert.Equal(tt, DefaultExpiration, request.Expiration)
	})

	t.Run("building is deterministic", func(tt *testing.T) {
		facts := SocialFacts{SubjectID: "u1", Name: "Jane", Email: "j@x.com", WalletAddress: "0xDEAD"}
		first, err := builder.Build(facts)
		assert.NoError(tt, err)
		second, err := builder.Build(facts)
		assert.NoError(tt, err)
		assert.Equal(tt, first, second)
	})

	t.Run("each missing fact names its field", func(tt *testing.T) {
		complete := SocialFacts{SubjectID: "u1", Name: "Jane", Email: "j@x.com", WalletAddress: "0xDEAD"}

		for field, incomplete := range map[string]SocialFacts{
			"id":            {Name: complete.Name, Email: complete.Email, WalletAddress: complete.WalletAddress},
			"name":          {SubjectID: complete.SubjectID, Email: complete.Email, WalletAddress: complete.WalletAddress},
			"email":         {SubjectID: complete.SubjectID, Name: complete.Name, WalletAddress: complete.WalletAddress},
			"walletAddress": {SubjectID: complete.SubjectID, Name: complete.Name, Email: complete.Email},
		} {
			request, err := builder.Build(incomplete)
			assert.Empty(tt, request)

			var validationErr *ValidationError
			assert.ErrorAs(tt, err, &validationErr)
			assert.Equal(tt, field, validationErr.Field)
		}
	})

	t.Run("caller may override the expiration", func(tt *testing.T) {
		request, err := builder.Build(SocialFacts{
			SubjectID:     "u1",
			Name:          "Jane",
			Email:         "j@x.com",
			WalletAddress: "0xDEAD",
			Expiration:    1999999999,
		})
		assert.NoError(tt, err)
		assert.Equal(tt, int64(1999999999), request.Expiration)
	})
}

func TestBuildBalanceCredential(t *testing.T) {
	builder := NewBuilder(Options{})

	t.Run("builds from subject and balance", func(tt *testing.T) {
		request, err := builder.Build(BalanceFacts{SubjectID: "u1", Balance: 42})
		assert.NoError(tt, err)
		assert.Equal(tt, BalanceCredentialSchema, request.CredentialSchema)
		assert.Equal(tt, BalanceCredentialType, request.Type)
		assert.Equal(tt, "u1", request.CredentialSubject.ID)
		assert.Equal(tt, uint64(42), request.CredentialSubject.Balance)
	})

	t.Run("missing subject fails", func(tt *testing.T) {
		request, err := builder.Build(BalanceFacts{Balance: 42})
		assert.Empty(tt, request)

		var validationErr *ValidationError
		assert.ErrorAs(tt, err, &validationErr)
		assert.Equal(tt, "id", validationErr.Field)
	})
}

func TestBuilderOptions(t *testing.T) {
	builder := NewBuilder(Options{
		SocialSchema:      "ipfs://QmCustomSchema",
		DefaultExpiration: 1800000000,
	})

	request, err := builder.Build(SocialFacts{
		SubjectID:     "u1",
		Name:          "Jane",
		Email:         "j@x.com",
		WalletAddress: "0xDEAD",
	})
	assert.NoError(t, err)
	assert.Equal(t, "ipfs://QmCustomSchema", request.CredentialSchema)
	assert.Equal(t, int64(1800000000), request.Expiration)
}
