package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mhjmaas/famly-sub002/internal/ids"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fakeSessions map[string]ids.ID

func (f fakeSessions) LookupSession(_ context.Context, token string) (ids.ID, error) {
	if uid, ok := f[token]; ok {
		return uid, nil
	}
	return "", errors.New("not found")
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	userID := ids.New()

	token, err := GenerateAccessToken(userID, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr bool
	}{
		{"valid token", token, secret, userID.String(), false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseAccessToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken(ids.New(), secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestParseAccessToken_RejectsNoneAlg(t *testing.T) {
	claims := Claims{UserID: ids.New().String(), RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ParseAccessToken(token, "secret"); err == nil {
		t.Error("ParseAccessToken() accepted an unsigned token")
	}
}

func TestLooksLikeJWT(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"aaa.bbb.ccc", true},
		{"aaa.bbb", false},
		{"aaa..ccc", false},
		{"a.b.c.d", false},
		{"0123456789abcdef0123456789abcdef", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LooksLikeJWT(tt.token); got != tt.want {
			t.Errorf("LooksLikeJWT(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	secret := "gateway-secret"
	alice, bob := ids.New(), ids.New()
	jwtToken, err := GenerateAccessToken(alice, secret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	subjectOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   bob.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign subject-only token: %v", err)
	}
	badClaim, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "not-an-id", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign bad-claim token: %v", err)
	}

	a := NewAuthenticator(secret, fakeSessions{"opaque-session": bob})

	tests := []struct {
		name    string
		token   string
		want    ids.ID
		wantErr error
	}{
		{"signed token", jwtToken, alice, nil},
		{"signed token with padding", "  " + jwtToken + " ", alice, nil},
		{"subject claim fallback", subjectOnly, bob, nil},
		{"opaque session", "opaque-session", bob, nil},
		{"missing", "", "", ErrMissingToken},
		{"bad signature", jwtToken + "x", "", ErrInvalidToken},
		{"bad user claim", badClaim, "", ErrInvalidToken},
		{"unknown session", "nope", "", ErrUnknownSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Authenticate(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator_NilSessions(t *testing.T) {
	a := NewAuthenticator("secret", nil)
	if _, err := a.Authenticate(context.Background(), "opaque"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Authenticate() error = %v, want ErrUnknownSession", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lower case scheme", "bearer abc", "", "abc"},
		{"header wins over query", "Bearer abc", "xyz", "abc"},
		{"query param", "", "xyz", "xyz"},
		{"non bearer header ignored", "Basic Zm9v", "xyz", "xyz"},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	alice := ids.New()
	a := NewAuthenticator("secret", fakeSessions{"sess": alice})

	r := gin.New()
	r.GET("/me", AuthMiddleware(a), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c).String())
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer sess")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != alice.String() {
		t.Errorf("authorized request = %d %q, want 200 %q", w.Code, w.Body.String(), alice)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous request = %d, want 401", w.Code)
	}
}
