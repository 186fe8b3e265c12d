package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func requestWithPattern(method, url, pattern string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{pattern}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

const checkoutPath = "/api/v1/stores/6f1c9a43-0d5e-4f7f-9a53-8c2a4b0f3d11/checkout"

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		pattern string
		ok      bool
	}{
		{"checkout path", http.MethodPost, checkoutPath, true},
		{"checkout pattern", http.MethodPost, "/api/v1/stores/{storeId}/checkout", true},
		{"subscription checkout", http.MethodPost, "/api/v1/stores/abc/subscription/checkout", true},
		{"checkout read", http.MethodGet, checkoutPath, false},
		{"checkout session", http.MethodPost, "/api/v1/stores/abc/checkout/cs_1", false},
		{"products", http.MethodPost, "/api/v1/stores/abc/products", false},
		{"missing store", http.MethodPost, "/api/v1/stores//checkout", false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.pattern)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != checkoutIdempotencyTTL {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, checkoutIdempotencyTTL, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"foo":"bar"}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	replay := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"foo":"bar"}`))
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"foo":"diff"}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareSkipsFailedResponses(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"items":[]}`))
		req.Header.Set("Idempotency-Key", "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected the failed attempt to be retried, handler ran %d times", calls)
	}
	if len(store.data) != 1 {
		t.Fatalf("expected only the successful response stored, got %d records", len(store.data))
	}
}

func TestIdempotencyMiddlewareIgnoresOtherRoutes(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := requestWithPattern(http.MethodPost, "/api/v1/stores/abc/products", "/api/v1/stores/{storeId}/products", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestIdempotencyMiddlewareAnswersCreatedReplayWithOK(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"session":{"url":"https://pay.test/cs_1"},"replayed":false}}` + "\n"))
	})

	send := func() *httptest.ResponseRecorder {
		req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"items":[{"product_id":"a","quantity":1}]}`))
		req.Header.Set("Idempotency-Key", "cart-201")
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		return resp
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", first.Code)
	}

	replay := send()
	if replay.Code != http.StatusOK {
		t.Fatalf("expected replay status 200 got %d", replay.Code)
	}
	var payload struct {
		Data struct {
			Session struct {
				URL string `json:"url"`
			} `json:"session"`
			Replayed bool `json:"replayed"`
		} `json:"data"`
	}
	if err := json.Unmarshal(replay.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse replay: %v", err)
	}
	if !payload.Data.Replayed {
		t.Fatalf("expected replayed flag on replay, body %s", replay.Body.String())
	}
	if payload.Data.Session.URL != "https://pay.test/cs_1" {
		t.Fatalf("expected the original session url, got %q", payload.Data.Session.URL)
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareTreatsReorderedCartAsSameRequest(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"replayed":false}}`))
	})

	bodies := []string{
		`{"items":[{"product_id":"p-1","quantity":1},{"product_id":"p-2","quantity":3}]}`,
		`{"items":[{"quantity":3,"product_id":"p-2"},{"product_id":"p-1","quantity":1}]}`,
		"{\n  \"items\": [ {\"product_id\": \"p-2\", \"quantity\": 3}, {\"product_id\": \"p-1\", \"quantity\": 1} ]\n}",
	}
	for i, body := range bodies {
		req := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "same-cart")
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, req)
		if i > 0 && resp.Code != http.StatusOK {
			t.Fatalf("body %d: expected replay 200 got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}

	changed := requestWithPattern(http.MethodPost, checkoutPath, checkoutPath, strings.NewReader(`{"items":[{"product_id":"p-1","quantity":2},{"product_id":"p-2","quantity":3}]}`))
	changed.Header.Set("Idempotency-Key", "same-cart")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, changed)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a different cart got %d", resp.Code)
	}
}
