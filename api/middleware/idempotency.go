package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/shopdeck-backend/api/responses"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

const checkoutIdempotencyTTL = 24 * time.Hour

type routeMatcher func(string) bool

type idempotencyRule struct {
	method  string
	matcher routeMatcher
	ttl     time.Duration
}

// Paths are matched on the raw URL; the middleware runs at group level,
// before chi has resolved the final route pattern.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchStorePath("checkout"), ttl: checkoutIdempotencyTTL},
	{method: http.MethodPost, matcher: matchStorePath("subscription", "checkout"), ttl: checkoutIdempotencyTTL},
}

type idempotencyRecord struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// the configured routes and rejects a reused key with a different body. A
// replayed 201 is answered with 200 and the payload flagged as replayed, the
// same answer the handler gives when it finds the existing session itself.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if idempotencyKey == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(canonicalBody(body))
			scope := buildScope(r)
			key := store.IdempotencyKey(scope, idempotencyKey)

			if stored, getErr := store.Get(r.Context(), key); getErr != nil && !errors.Is(getErr, redis.Nil) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, getErr, "check idempotency"))
				return
			} else if stored != "" {
				record, decodeErr := decodeRecord(stored)
				if decodeErr != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode idempotency record"))
					return
				}
				if record.RequestHash != requestHash {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				writeStoredResponse(w, record)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// Failed attempts stay retryable under the same key.
			if status := defaultStatus(rec.status); status < 200 || status >= 300 {
				return
			}

			replayStatus, replayBody := asReplay(defaultStatus(rec.status), rec.body.Bytes())
			record := idempotencyRecord{
				Status:      replayStatus,
				Body:        base64.StdEncoding.EncodeToString(replayBody),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}

			payload, marshalErr := json.Marshal(record)
			if marshalErr != nil {
				logError(r.Context(), logg, "marshal idempotency record", marshalErr)
				return
			}

			if _, setErr := store.SetNX(r.Context(), key, string(payload), ttl); setErr != nil {
				logError(r.Context(), logg, "persist idempotency record", setErr)
			}
		})
	}
}

func buildScope(r *http.Request) string {
	parts := []string{
		UserIDFromContext(r.Context()),
		StoreIDFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}
	return strings.Join(parts, "|")
}

func decodeRecord(payload string) (*idempotencyRecord, error) {
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if record == nil {
		return
	}
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

// asReplay turns a fresh 201 into what a repeat of the same request gets:
// 200 with data.replayed set when the payload carries that flag.
func asReplay(status int, body []byte) (int, []byte) {
	if status != http.StatusCreated {
		return status, body
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return http.StatusOK, body
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(envelope["data"], &data); err != nil {
		return http.StatusOK, body
	}
	if _, ok := data["replayed"]; !ok {
		return http.StatusOK, body
	}
	data["replayed"] = json.RawMessage("true")
	rawData, err := json.Marshal(data)
	if err != nil {
		return http.StatusOK, body
	}
	envelope["data"] = rawData
	out, err := json.Marshal(envelope)
	if err != nil {
		return http.StatusOK, body
	}
	return http.StatusOK, append(out, '\n')
}

// canonicalBody re-encodes a JSON body with sorted keys, no insignificant
// whitespace and "items" ordered by product_id, so the same cart always
// hashes the same. Non-JSON bodies are hashed as sent.
func canonicalBody(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return body
	}
	if obj, ok := doc.(map[string]any); ok {
		if items, ok := obj["items"].([]any); ok {
			sort.SliceStable(items, func(i, j int) bool {
				return itemSortKey(items[i]) < itemSortKey(items[j])
			})
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func itemSortKey(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := obj["product_id"].(string)
	return strings.ToLower(strings.TrimSpace(id))
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if rule.matcher(pattern) {
			return rule.ttl, true
		}
	}
	return 0, false
}

// matchStorePath matches /api/v1/stores/{storeId}/<tail...>.
func matchStorePath(tail ...string) routeMatcher {
	return func(pattern string) bool {
		parts := strings.Split(strings.Trim(pattern, "/"), "/")
		if len(parts) != 4+len(tail) {
			return false
		}
		if parts[0] != "api" || parts[1] != "v1" || parts[2] != "stores" || parts[3] == "" {
			return false
		}
		for i, segment := range tail {
			if parts[4+i] != segment {
				return false
			}
		}
		return true
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
