package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "an-unremarkable-signing-secret-for-tests!"

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return issuer
}

func TestIssueValidateRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)

	tok, err := issuer.Issue("user:42", nil, time.Minute, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if tok.Value == "" {
		t.Fatal("Issue() returned empty token value")
	}

	claims, err := issuer.Validate(tok.Value)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if sub, _ := claims["sub"].(string); sub != "user:42" {
		t.Errorf("sub = %q, want %q", sub, "user:42")
	}
	if _, ok := claims["aud"]; ok {
		t.Error("aud should be omitted for an empty audience")
	}
	if _, ok := claims["iat"]; !ok {
		t.Error("iat claim missing")
	}
	if _, ok := claims["exp"]; !ok {
		t.Error("exp claim missing")
	}
}

func TestIssueSingleAudienceIsBareString(t *testing.T) {
	issuer := newTestIssuer(t)

	tok, err := issuer.Issue("svc", []string{"mattermost"}, time.Minute, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Validate(tok.Value)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if aud, ok := claims["aud"].(string); !ok || aud != "mattermost" {
		t.Errorf("aud = %#v, want bare string %q", claims["aud"], "mattermost")
	}
}

func TestIssueTwoAudiencesRecoveredInOrder(t *testing.T) {
	issuer := newTestIssuer(t)

	tok, err := issuer.Issue("svc", []string{"mattermost", "n8n"}, time.Minute, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Validate(tok.Value)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	aud, ok := claims["aud"].([]any)
	if !ok {
		t.Fatalf("aud = %#v, want list", claims["aud"])
	}
	if len(aud) != 2 || aud[0] != "mattermost" || aud[1] != "n8n" {
		t.Errorf("aud = %v, want [mattermost n8n] in order", aud)
	}
}

func TestIssueExtraClaimsMergedLast(t *testing.T) {
	issuer := newTestIssuer(t)

	extra := map[string]any{"role": "admin", "sub": "overridden"}
	tok, err := issuer.Issue("original", nil, time.Minute, extra)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Validate(tok.Value)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if role, _ := claims["role"].(string); role != "admin" {
		t.Errorf("role = %q, want %q", role, "admin")
	}
	// Extra claims win on collision; that is the caller's responsibility.
	if sub, _ := claims["sub"].(string); sub != "overridden" {
		t.Errorf("sub = %q, want %q", sub, "overridden")
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	issuer := newTestIssuer(t)
	if _, err := issuer.Issue("", nil, time.Minute, nil); err == nil {
		t.Error("Issue() with empty subject should fail")
	}
}

func TestIssueRejectsNonPositiveTTL(t *testing.T) {
	issuer := newTestIssuer(t)
	if _, err := issuer.Issue("svc", nil, 0, nil); err == nil {
		t.Error("Issue() with zero ttl should fail")
	}
	if _, err := issuer.Issue("svc", nil, -time.Second, nil); err == nil {
		t.Error("Issue() with negative ttl should fail")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return current }

	tok, err := issuer.Issue("svc", nil, time.Second, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.Validate(tok.Value); err != nil {
		t.Fatalf("token should validate before expiry, got %v", err)
	}

	current = current.Add(2 * time.Second)
	if _, err := issuer.Validate(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() after expiry = %v, want ErrInvalidToken", err)
	}
}

func TestValidateOpaqueErrors(t *testing.T) {
	issuer := newTestIssuer(t)

	// Structurally broken.
	if _, err := issuer.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token error = %v, want ErrInvalidToken", err)
	}

	// Signed by a different key.
	other, err := NewIssuer("a-completely-different-secret-value!!")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	tok, err := other.Issue("svc", nil, time.Minute, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := issuer.Validate(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong-key token error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsUnsignedAlgorithm(t *testing.T) {
	issuer := newTestIssuer(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "svc",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	value, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing with none: %v", err)
	}
	if _, err := issuer.Validate(value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg=none token error = %v, want ErrInvalidToken", err)
	}
}

func TestNewIssuerKeyDecoding(t *testing.T) {
	rawKey := bytes.Repeat([]byte{0xff}, 18)

	tests := []struct {
		name    string
		secret  string
		wantKey []byte
	}{
		{
			name:    "standard base64",
			secret:  base64.StdEncoding.EncodeToString([]byte("exactly-thirty-two-byte-secret!!")),
			wantKey: []byte("exactly-thirty-two-byte-secret!!"),
		},
		{
			name:    "unpadded standard base64",
			secret:  base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef")),
			wantKey: []byte("0123456789abcdef"),
		},
		{
			name:    "url-safe base64",
			secret:  base64.URLEncoding.EncodeToString(rawKey),
			wantKey: rawKey,
		},
		{
			name:    "raw fallback",
			secret:  testSecret,
			wantKey: []byte(testSecret),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, err := NewIssuer(tt.secret)
			if err != nil {
				t.Fatalf("NewIssuer(%q) error = %v", tt.secret, err)
			}
			if !bytes.Equal(issuer.key, tt.wantKey) {
				t.Errorf("decoded key = %x, want %x", issuer.key, tt.wantKey)
			}
		})
	}
}

func TestNewIssuerRejectsShortKeys(t *testing.T) {
	if _, err := NewIssuer("tiny"); err == nil {
		t.Error("4-byte raw key should be rejected")
	}
	// 16 base64 characters decode to 12 bytes; the decode happens before
	// the length check, so this secret is too short even though the string
	// itself is 16 bytes.
	if _, err := NewIssuer("abcdefghijklmnop"); err == nil {
		t.Error("base64-decodable 16-char secret should be rejected")
	}
}
