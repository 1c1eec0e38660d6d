package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxReplayBody     = 1 << 20
)

// EventLogger receives failures the middleware cannot surface to the client.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     EventLogger
	scope      func(*http.Request) string
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects the event logger.
func WithLogger(logger EventLogger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithScope overrides how keys are partitioned. Keys are scoped to the register by default, so two
// lanes reusing a client-generated key never collide.
func WithScope(scope func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if scope != nil {
			cfg.scope = scope
		}
	}
}

// Middleware makes the wrapped handler safe to retry. The first request with a key runs the handler
// and its response is stored; retries with the same key and body replay it. Server errors are not
// stored, so a tender that failed because a dependency was down can be retried with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     func(context.Context, string, map[string]any) {},
		scope: func(r *http.Request) string {
			return requestctx.Station(r.Context())
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		return &guard{store: store, cfg: cfg, next: next}
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.cfg.headerName+" header", http.StatusBadRequest))
		return
	}
	body, err := readAndReplayBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	key := NewKey(g.cfg.scope(r), token)
	fingerprint := requestFingerprint(r, body)

	reservation, err := g.store.Reserve(ctx, key, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.log(ctx, "idempotency.reserve_failed", key, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
		return
	case reservation.State == ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	buf := &bufferedWriter{header: make(http.Header)}
	g.next.ServeHTTP(buf, r)
	g.settle(ctx, key, fingerprint, buf)

	if err := buf.flushTo(w); err != nil {
		g.log(ctx, "idempotency.flush_failed", key, err)
	}
}

// settle stores a completed response, or frees the key when the handler failed server-side or the
// response could not be stored.
func (g *guard) settle(ctx context.Context, key Key, fingerprint string, buf *bufferedWriter) {
	if buf.statusCode() < http.StatusInternalServerError {
		resp := Response{Status: buf.statusCode(), Headers: buf.header.Clone(), Body: buf.body.Bytes()}
		err := g.store.SaveResponse(ctx, key, fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl)
		if err == nil {
			return
		}
		g.log(ctx, "idempotency.save_failed", key, err)
	}
	if err := g.store.Release(ctx, key, fingerprint); err != nil {
		g.log(ctx, "idempotency.release_failed", key, err)
	}
}

func (g *guard) log(ctx context.Context, event string, key Key, err error) {
	g.cfg.logger(ctx, event, map[string]any{"key": key.String(), "error": err})
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxReplayBody {
		return nil, errors.New("idempotency: request body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to the method, path, query and body it was first used with.
func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery} {
		_, _ = io.WriteString(h, part)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedWriter holds the handler's response until it has been stored.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(data)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) error {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, err := w.Write(b.body.Bytes())
	return err
}
