package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// downStore simula o backend fora do ar.
type downStore struct{}

func (downStore) Increment(context.Context, domain.Key) (domain.Decision, error) {
	return domain.Decision{}, errors.New("connection refused")
}
func (downStore) Decrement(context.Context, domain.Key) error { return errors.New("connection refused") }
func (downStore) Reset(context.Context, domain.Key) error     { return errors.New("connection refused") }

func newTestLimiter(t *testing.T, opts Options) *Limiter {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	lim, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lim
}

func doRequest(h http.Handler, remoteAddr string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/api/things", nil)
	r.RemoteAddr = remoteAddr
	for _, m := range mutate {
		m(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 1, Window: time.Minute, Strategy: domain.FixedWindow})

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	h := lim.Middleware()(next)

	// 1) primeira passa, com o trio de headers
	w1 := doRequest(h, "10.0.0.1:1234")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatalf("expected X-RateLimit-Reset to be set")
	}

	// 2) segunda bloqueia com Retry-After
	w2 := doRequest(h, "10.0.0.1:1234")
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After header to be set")
	}
	if !strings.Contains(w2.Body.String(), "too many requests") {
		t.Fatalf("expected default denial message, got %q", w2.Body.String())
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 1, Window: time.Minute, Strategy: domain.FixedWindow})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := lim.Middleware()(next)

	// chaves diferentes => contadores independentes, ambos passam
	w1 := doRequest(h, "10.0.0.1:1234", func(r *http.Request) { r.Header.Set("X-Api-Key", "k1") })
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k1, got %d", w1.Code)
	}
	w2 := doRequest(h, "10.0.0.1:1234", func(r *http.Request) { r.Header.Set("X-Api-Key", "k2") })
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k2, got %d", w2.Code)
	}
}

func TestMiddleware_CustomKeyFnSharesCounter(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Minute, Strategy: domain.FixedWindow,
		KeyFn: func(*http.Request) string { return "tenant:acme" },
	})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := lim.Middleware()(next)

	if w := doRequest(h, "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// IP diferente, mesma chave derivada => mesmo contador
	if w := doRequest(h, "10.0.0.2:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for shared key, got %d", w.Code)
	}
}

func TestMiddleware_LegacyHeaders(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 5, Window: time.Minute, LegacyHeaders: true})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := doRequest(h, "10.0.0.1:1234")
	if got := w.Header().Get("X-Rate-Limit-Limit"); got != "5" {
		t.Fatalf("expected legacy limit header, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected standard header alongside legacy, got %q", got)
	}
}

func TestMiddleware_DisableHeaders(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 5, Window: time.Minute, DisableHeaders: true})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := doRequest(h, "10.0.0.1:1234")
	if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
		t.Fatalf("expected no rate limit headers, got %q", got)
	}
}

func TestMiddleware_CustomDenyHandler(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Minute, Strategy: domain.FixedWindow,
		Handler: func(w http.ResponseWriter, r *http.Request, denial *domain.LimitExceededError) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = io.WriteString(w, denial.Error())
		},
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest(h, "10.0.0.1:1234")
	w := doRequest(h, "10.0.0.1:1234")
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected custom handler status, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After set before custom handler runs")
	}
}

func TestMiddleware_SkipBypassesLimiter(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Minute, Strategy: domain.FixedWindow,
		Skip: func(r *http.Request) bool { return r.URL.Path == "/api/things" },
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("expected bypass on request %d, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
			t.Fatalf("expected no headers on bypass, got %q", got)
		}
	}
}

func TestMiddleware_FailsOpenWhenStoreIsDown(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 1, Window: time.Minute, Store: downStore{}})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "10.0.0.1:1234")
		if w.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200 on request %d, got %d", i+1, w.Code)
		}
		// sem decisão conhecida, sem headers
		if got := w.Header().Get("X-RateLimit-Limit"); got != "" {
			t.Fatalf("expected no headers on fail-open, got %q", got)
		}
	}
}

func TestMiddleware_SkipSuccessfulRefundsHit(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Minute, Strategy: domain.FixedWindow,
		SkipSuccessful: true,
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// cada sucesso devolve o hit, então o limite 1 nunca esgota
	for i := 0; i < 3; i++ {
		if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 on request %d, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_SkipSuccessfulStillCountsFailures(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 2, Window: time.Minute, Strategy: domain.FixedWindow,
		SkipSuccessful: true,
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))

	for i := 0; i < 2; i++ {
		if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 on request %d, got %d", i+1, w.Code)
		}
	}
	if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after failed attempts exhausted the limit, got %d", w.Code)
	}
}

func TestMiddleware_SkipFailedDenialsDontErodeSlidingWindow(t *testing.T) {
	// negação no sliding window já foi desfeita dentro do store; um estorno
	// em cima removeria um hit admitido e abriria vaga para tráfego negado
	lim := newTestLimiter(t, Options{
		Max: 2, Window: time.Hour, Strategy: domain.SlidingWindow,
		SkipFailed: true,
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	admitted := 0
	for i := 0; i < 8; i++ {
		w := doRequest(h, "10.0.0.1:1234")
		if w.Code == http.StatusOK {
			admitted++
		}
		if i >= 2 && w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected request %d to be denied, got %d", i+1, w.Code)
		}
	}
	if admitted != 2 {
		t.Fatalf("expected exactly 2 admitted requests, got %d", admitted)
	}
}

func TestMiddleware_SkipFailedDenialsDontMintTokens(t *testing.T) {
	// negação no token bucket não consumiu ficha; estornar criaria ficha
	// do nada e admitiria uma requisição sim outra não
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Hour, Strategy: domain.TokenBucket,
		SkipFailed: true,
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusOK {
		t.Fatalf("expected first request admitted, got %d", w.Code)
	}
	for i := 0; i < 5; i++ {
		if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected request %d denied with empty bucket, got %d", i+2, w.Code)
		}
	}
}

func TestMiddleware_KeyHeaderIgnoresSurroundingWhitespace(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 1, Window: time.Minute, Strategy: domain.FixedWindow})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// mesma credencial com e sem espaços cai no mesmo balde
	w1 := doRequest(h, "10.0.0.1:1234", func(r *http.Request) { r.Header.Set("X-Api-Key", " k1 ") })
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	w2 := doRequest(h, "10.0.0.2:1234", func(r *http.Request) { r.Header.Set("X-Api-Key", "k1") })
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same trimmed key, got %d", w2.Code)
	}
}

func TestMiddleware_SkipFailedRefundsFailures(t *testing.T) {
	lim := newTestLimiter(t, Options{
		Max: 1, Window: time.Minute, Strategy: domain.FixedWindow,
		SkipFailed: true,
	})
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	for i := 0; i < 3; i++ {
		if w := doRequest(h, "10.0.0.1:1234"); w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500 on request %d, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_DecisionAvailableInContext(t *testing.T) {
	lim := newTestLimiter(t, Options{Max: 5, Window: time.Minute})

	var dec domain.Decision
	var ok bool
	h := lim.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec, ok = DecisionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	doRequest(h, "10.0.0.1:1234")
	if !ok {
		t.Fatalf("expected decision in request context")
	}
	if dec.Limit != 5 || dec.Current != 1 || dec.Remaining != 4 {
		t.Fatalf("unexpected decision %+v", dec)
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	var cfgErr *domain.ConfigError

	_, err := New(Options{Max: -1})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for negative max, got %v", err)
	}

	_, err = New(Options{Strategy: "bogus"})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unknown strategy, got %v", err)
	}

	_, err = New(Options{KeyBy: "bogus"})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for unknown key derivation, got %v", err)
	}
}
