package hub

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewTokenAuth("s3cret", "run-1", time.Hour)
	tok, err := a.Issue(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	claims, err := a.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.RunID != "run-1" || claims.Subject != "run-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenRejected(t *testing.T) {
	a := NewTokenAuth("s3cret", "run-1", time.Hour)

	expired, _ := a.Issue(time.Now().Add(-2 * time.Hour))
	otherRun, _ := NewTokenAuth("s3cret", "run-2", time.Hour).Issue(time.Now())
	otherSecret, _ := NewTokenAuth("nope", "run-1", time.Hour).Issue(time.Now())
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &WatchClaims{RunID: "run-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"expired":      expired,
		"other run":    otherRun,
		"other secret": otherSecret,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		if _, err := a.Validate(tok); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

func TestRouterRequiresToken(t *testing.T) {
	a := NewTokenAuth("s3cret", "run-1", time.Hour)
	srv := httptest.NewServer(Router(New(nil), NewTracker("run-1", "prod-edx-edxapp"), nil, a))
	defer srv.Close()

	get := func(path, bearer string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	tok, _ := a.Issue(time.Now())
	if code := get("/api/health", ""); code != http.StatusOK {
		t.Errorf("health = %d, want 200", code)
	}
	if code := get("/api/run", ""); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code := get("/api/run", "bogus"); code != http.StatusForbidden {
		t.Errorf("bad token = %d, want 403", code)
	}
	if code := get("/api/run", tok); code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", code)
	}
	if code := get("/api/run?token="+tok, ""); code != http.StatusOK {
		t.Errorf("query token = %d, want 200", code)
	}
}
