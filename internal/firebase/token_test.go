package firebase

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func testServiceAccount(t *testing.T, tokenURI string) (ServiceAccount, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	return ServiceAccount{
		ProjectID:   "doorbot-test",
		PrivateKey:  pemText,
		ClientEmail: "relay@doorbot-test.iam.gserviceaccount.com",
		TokenURI:    tokenURI,
	}, key
}

func TestTokenExchangeSignsAssertion(t *testing.T) {
	var gotAssertion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if grant := r.PostForm.Get("grant_type"); grant != "urn:ietf:params:oauth:grant-type:jwt-bearer" {
			t.Errorf("grant_type = %q", grant)
		}
		gotAssertion = r.PostForm.Get("assertion")
		fmt.Fprint(w, `{"access_token":"minted-token","expires_in":3600}`)
	}))
	defer server.Close()

	account, key := testServiceAccount(t, server.URL)
	source, err := NewTokenSource(account, server.Client())
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	token, err := source.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "minted-token" {
		t.Fatalf("token = %q", token)
	}

	parts := strings.Split(gotAssertion, ".")
	if len(parts) != 3 {
		t.Fatalf("assertion has %d segments", len(parts))
	}
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode claims: %v", err)
	}
	var claims struct {
		Iss   string `json:"iss"`
		Aud   string `json:"aud"`
		Scope string `json:"scope"`
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	if claims.Iss != account.ClientEmail {
		t.Errorf("iss = %q", claims.Iss)
	}
	if claims.Aud != server.URL {
		t.Errorf("aud = %q", claims.Aud)
	}
	if !strings.Contains(claims.Scope, "firebase.database") || !strings.Contains(claims.Scope, "firebase.messaging") {
		t.Errorf("scope = %q", claims.Scope)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], signature); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	var exchanges atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		fmt.Fprint(w, `{"access_token":"minted-token","expires_in":3600}`)
	}))
	defer server.Close()

	account, _ := testServiceAccount(t, server.URL)
	source, err := NewTokenSource(account, server.Client())
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := source.Token(context.Background()); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if got := exchanges.Load(); got != 1 {
		t.Fatalf("token exchanges = %d, want 1", got)
	}
}

func TestTokenExchangeFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	account, _ := testServiceAccount(t, server.URL)
	source, err := NewTokenSource(account, server.Client())
	if err != nil {
		t.Fatalf("NewTokenSource: %v", err)
	}
	if _, err := source.Token(context.Background()); err == nil {
		t.Fatal("expected error from failed exchange")
	}
}

func TestNewTokenSourceRejectsBadKey(t *testing.T) {
	account := ServiceAccount{
		ProjectID:   "doorbot-test",
		PrivateKey:  "not a pem block",
		ClientEmail: "relay@doorbot-test.iam.gserviceaccount.com",
	}
	if _, err := NewTokenSource(account, nil); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestStaticTokenSource(t *testing.T) {
	token, err := StaticTokenSource("fixed").Token(context.Background())
	if err != nil || token != "fixed" {
		t.Fatalf("Token = %q, %v", token, err)
	}
}
