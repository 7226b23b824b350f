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
	pconfig "github.com/conceptdash/api/internal/platform/config"
	pfirestore "github.com/conceptdash/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type productDoc struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unit_price"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	endpoint := startEmulator(t)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "conceptdash-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client == nil {
		t.Fatal("provider returned nil client")
	}

	repo := pfirestore.NewBaseRepository[productDoc](provider, "products", nil)

	if _, err := client.Collection("products").Doc("prod-airtime-10").Set(ctx, productDoc{Name: "Airtime 10", UnitPrice: 1000}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	doc, err := repo.Get(ctx, "prod-airtime-10")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != "prod-airtime-10" {
		t.Errorf("doc ID = %s, want prod-airtime-10", doc.ID)
	}
	if doc.Data.Name != "Airtime 10" || doc.Data.UnitPrice != 1000 {
		t.Errorf("doc data = %#v", doc.Data)
	}
	if doc.UpdateTime.IsZero() {
		t.Error("expected update time to be set")
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}

	_, err = repo.Get(ctx, "prod-missing")
	if err == nil {
		t.Fatal("expected not found error")
	}
	var cls interface{ IsNotFound() bool }
	if !errors.As(err, &cls) {
		t.Fatalf("expected repository error, got %v", err)
	}
	if !cls.IsNotFound() {
		t.Fatal("expected not found classification")
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "prod-airtime-10")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var product productDoc
		if err := snap.DataTo(&product); err != nil {
			return err
		}
		product.UnitPrice += 500
		return tx.Set(ref, product)
	}); err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}

	doc, err = repo.Get(ctx, "prod-airtime-10")
	if err != nil {
		t.Fatalf("Get after transaction: %v", err)
	}
	if doc.Data.UnitPrice != 1500 {
		t.Errorf("unit price after txn = %d, want 1500", doc.Data.UnitPrice)
	}

	cancelledCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelledCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// startEmulator launches a Firestore emulator container and blocks until its
// port accepts connections. The test is skipped when docker is unusable.
func startEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	containerID := strings.TrimSpace(string(out))
	if containerID == "" {
		t.Fatal("docker returned empty container id")
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	waitForEndpoint(t, endpoint, 30*time.Second)
	return endpoint
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
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
