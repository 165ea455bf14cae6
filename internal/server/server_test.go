package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"albion-price-alerts/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChecker struct {
	calls  int
	result service.CycleResult
	err    error
}

func (f *fakeChecker) RunCheck(ctx context.Context) (service.CycleResult, error) {
	f.calls++
	return f.result, f.err
}

func do(t *testing.T, s *Server, method, path, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRunCheckSuccess(t *testing.T) {
	checker := &fakeChecker{result: service.CycleResult{CycleID: "x", Checked: 3, Triggered: 1}}
	s := New(Options{CronSecret: "s3cret"}, checker, zerolog.Nop())

	rec := do(t, s, http.MethodPost, "/alerts/run-check", "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["checked"] != float64(3) || body["triggered"] != float64(1) || len(body) != 2 {
		t.Fatalf("unexpected body %v", body)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}
}

func TestRunCheckRejectsBadSecretBeforeWork(t *testing.T) {
	checker := &fakeChecker{}
	s := New(Options{CronSecret: "s3cret"}, checker, zerolog.Nop())

	for _, secret := range []string{"", "wrong", "s3cret "} {
		rec := do(t, s, http.MethodPost, "/alerts/run-check", secret)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("secret %q: expected 401, got %d", secret, rec.Code)
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["detail"] != "Invalid secret" {
			t.Fatalf("unexpected body %v", body)
		}
	}
	if checker.calls != 0 {
		t.Fatalf("no cycle may run on rejected calls, ran %d", checker.calls)
	}
}

func TestRunCheckDisabledWithoutSecret(t *testing.T) {
	checker := &fakeChecker{}
	s := New(Options{}, checker, zerolog.Nop())
	if rec := do(t, s, http.MethodPost, "/alerts/run-check", "anything"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if checker.calls != 0 {
		t.Fatal("disabled trigger must not run")
	}
}

func TestRunCheckFailures(t *testing.T) {
	cases := map[error]int{
		service.ErrCycleInProgress:         http.StatusConflict,
		errors.New("database unavailable"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		s := New(Options{CronSecret: "s3cret"}, &fakeChecker{err: err}, zerolog.Nop())
		if rec := do(t, s, http.MethodPost, "/alerts/run-check", "s3cret"); rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	s := New(Options{}, &fakeChecker{}, zerolog.Nop())
	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
