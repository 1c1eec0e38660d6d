//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/tillpoint/api/internal/platform/config"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
	"github.com/tillpoint/api/internal/platform/idempotency"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type drawerEntity struct {
	StationID string `firestore:"stationId"`
	Status    string `firestore:"status"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "till-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	repo := pfirestore.NewBaseRepository[drawerEntity](provider, "drawers", nil, nil)

	if err := repo.Create(ctx, "shift-1", drawerEntity{StationID: "lane-1", Status: "OPEN"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := repo.Create(ctx, "shift-1", drawerEntity{StationID: "lane-1", Status: "OPEN"})
	type classifier interface {
		IsNotFound() bool
		IsConflict() bool
	}
	var cls classifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	doc, err := repo.Get(ctx, "shift-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.StationID != "lane-1" || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document: %#v", doc)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.As(err, &cls) || !cls.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := repo.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
			return q.Where("stationId", "==", "lane-1")
		})
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := repo.DeleteTx(ctx, tx, d.ID); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected drawers deleted, got %d", len(docs))
	}

	exerciseIdempotencyStore(t, ctx, provider)

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func exerciseIdempotencyStore(t *testing.T, ctx context.Context, provider *pfirestore.Provider) {
	t.Helper()
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store := idempotency.NewFirestoreStore(client)
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	key := idempotency.NewKey("lane-1", "tender-abc")

	res, err := store.Reserve(ctx, key, "fp", now, time.Minute)
	if err != nil || res.State != idempotency.ReservationStateNew {
		t.Fatalf("reserve: %v %+v", err, res)
	}
	if _, err := store.Reserve(ctx, key, "other", now, time.Minute); !errors.Is(err, idempotency.ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
	if err := store.SaveResponse(ctx, key, "fp", idempotency.Response{Status: 201, Body: []byte(`{"ok":true}`)}, now, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, key, "fp", now, time.Minute)
	if err != nil || res.State != idempotency.ReservationStateCompleted || res.Record.ResponseStatus != 201 {
		t.Fatalf("expected completed replay, got %v %+v", err, res)
	}
	removed, err := store.CleanupExpired(ctx, now.Add(time.Hour), 10)
	if err != nil || removed != 1 {
		t.Fatalf("cleanup: removed=%d err=%v", removed, err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}
