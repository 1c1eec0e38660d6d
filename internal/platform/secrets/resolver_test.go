package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/till/secrets/stripe-api-key/versions/latest"
	client.values[resource] = "sk_live_remote\n"

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("till"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://stripe-api-key")
		if err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
		if got != "sk_live_remote" {
			t.Fatalf("expected trimmed remote secret, got %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/till/secrets/promo-token/versions/latest"
	client.values[resource] = "token"

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithProject("till"), WithCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	resolver.now = func() time.Time { return now }

	if _, err := resolver.ResolveSecret(ctx, "secret://promo-token"); err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := resolver.ResolveSecret(ctx, "secret://promo-token"); err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/other/secrets/stripe-api-key/versions/5"
	client.values[resource] = "version-5"

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithProject("till"))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "sm://stripe-api-key?version=5&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("expected version-5, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/till/secrets/stripe-api-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("till"),
		WithFallbackFile(writeFallback(t, "# local development\nstripe-api-key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback secret, got %s", got)
	}
}

func TestResolveFallbackHonoursPinnedVersion(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/till/secrets/square-access-token/versions/3"] = status.Error(codes.Unavailable, "offline")
	client.errors["projects/till/secrets/square-access-token/versions/latest"] = status.Error(codes.Unavailable, "offline")

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("till"),
		WithFallbackFile(writeFallback(t, "square-access-token=sq_latest\nexport square-access-token@3=\"sq_pinned\"\n")),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	pinned, err := resolver.ResolveSecret(ctx, "secret://square-access-token?version=3")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if pinned != "sq_pinned" {
		t.Fatalf("expected pinned fallback secret, got %s", pinned)
	}
	latest, err := resolver.ResolveSecret(ctx, "secret://square-access-token")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if latest != "sq_latest" {
		t.Fatalf("expected latest fallback secret, got %s", latest)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("till"),
		WithFallbackFile(writeFallback(t, "stripe-api-key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	if _, err := resolver.ResolveSecret(ctx, "secret://stripe-api-key"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewResolverWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()
	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	resolver, err := NewResolver(ctx,
		WithProject("till"),
		WithFallbackFile(writeFallback(t, "stripe-api-key=sk_test_local\n")),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	value, err := resolver.ResolveSecret(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "sk_test_local" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestParseReferenceRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
