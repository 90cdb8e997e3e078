package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func testVerifier(t *testing.T) *OAuthVerifier {
	t.Helper()
	verifier, err := NewOAuthVerifier(OAuthOptions{
		ClientID:     "client-1",
		ClientSecret: "secret",
		AuthURL:      "https://provider.test/auth",
		TokenURL:     "https://provider.test/token",
		RedirectURL:  "http://localhost:9876/callback",
		ListenAddr:   "127.0.0.1:9876",
	})
	require.NoError(t, err)
	return verifier
}

func TestNewOAuthVerifier(t *testing.T) {
	verifier, err := NewOAuthVerifier(OAuthOptions{})
	assert.Error(t, err)
	assert.Empty(t, verifier)
	assert.Contains(t, err.Error(), "clientID cannot be empty")
}

func TestIdentityFromIDToken(t *testing.T) {
	t.Run("reads name and email claims", func(tt *testing.T) {
		raw := testIDToken(tt, jwt.MapClaims{"name": "Jane", "email": "j@x.com"})
		identity, err := identityFromIDToken(raw, "u1")
		assert.NoError(tt, err)
		assert.Equal(tt, &Identity{Subject: "u1", Name: "Jane", Email: "j@x.com"}, identity)
	})

	t.Run("missing email claim fails", func(tt *testing.T) {
		raw := testIDToken(tt, jwt.MapClaims{"name": "Jane"})
		identity, err := identityFromIDToken(raw, "u1")
		assert.Error(tt, err)
		assert.Empty(tt, identity)
	})

	t.Run("garbage token fails", func(tt *testing.T) {
		identity, err := identityFromIDToken("not-a-token", "u1")
		assert.Error(tt, err)
		assert.Empty(tt, identity)
	})
}

func TestHandleCallback(t *testing.T) {
	rawIDToken := testIDToken(t, jwt.MapClaims{"name": "Jane", "email": "j@x.com"})

	t.Run("state mismatch is rejected before exchange", func(tt *testing.T) {
		verifier := testVerifier(tt)
		verifier.exchange = func(context.Context, string) (*oauth2.Token, error) {
			tt.Fatal("exchange must not run on state mismatch")
			return nil, nil
		}

		identity, err := verifier.handleCallback(context.Background(), "nonce.u1", "other.u1", "code-1")
		assert.Error(tt, err)
		assert.Empty(tt, identity)
		assert.Contains(tt, err.Error(), "state parameter mismatch")
	})

	t.Run("exchanges the code and returns the carried subject", func(tt *testing.T) {
		verifier := testVerifier(tt)
		verifier.exchange = func(_ context.Context, code string) (*oauth2.Token, error) {
			assert.Equal(tt, "code-1", code)
			token := &oauth2.Token{AccessToken: "at"}
			return token.WithExtra(map[string]any{"id_token": rawIDToken}), nil
		}

		identity, err := verifier.handleCallback(context.Background(), "nonce.u1", "nonce.u1", "code-1")
		assert.NoError(tt, err)
		assert.Equal(tt, "u1", identity.Subject)
		assert.Equal(tt, "Jane", identity.Name)
		assert.Equal(tt, "j@x.com", identity.Email)
	})

	t.Run("token response without id_token fails", func(tt *testing.T) {
		verifier := testVerifier(tt)
		verifier.exchange = func(context.Context, string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "at"}, nil
		}

		identity, err := verifier.handleCallback(context.Background(), "nonce.u1", "nonce.u1", "code-1")
		assert.Error(tt, err)
		assert.Empty(tt, identity)
	})
}

func TestCallbackHandler(t *testing.T) {
	rawIDToken := testIDToken(t, jwt.MapClaims{"name": "Jane", "email": "j@x.com"})
	verifier := testVerifier(t)
	verifier.exchange = func(context.Context, string) (*oauth2.Token, error) {
		token := &oauth2.Token{AccessToken: "at"}
		return token.WithExtra(map[string]any{"id_token": rawIDToken}), nil
	}

	results := make(chan callbackResult, 1)
	router := gin.New()
	router.GET("/callback", verifier.callbackHandler("nonce.u1", results))

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/callback?state=nonce.u1&code=code-1", nil)
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusOK, recorder.Code)
	result := <-results
	assert.NoError(t, result.err)
	assert.Equal(t, "j@x.com", result.identity.Email)
}
