//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/PratikDhanave/shotlog/internal/models"
	"github.com/PratikDhanave/shotlog/internal/sequence"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// startPostgres runs a throwaway postgres container and returns a connected store.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "shotlog",
			"POSTGRES_PASSWORD": "shotlog",
			"POSTGRES_DB":       "shotlog",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	dsn := fmt.Sprintf("postgres://shotlog:shotlog@%s:%s/shotlog?sslmode=disable", host, port.Port())
	st, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIntegration_IdempotentInsert(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	shot := models.Shot{ID: "casadio:1:1", OccurredAt: time.Now().UnixMilli(), DurationMs: 25000, Payload: []byte(`{"shot_ms":25000}`)}
	day := sequence.DayKey(shot.OccurredAt, 7*time.Hour)

	first, err := st.InsertIfAbsent(ctx, shot, day)
	if err != nil || first == nil || *first != 1 {
		t.Fatalf("first insert = %v, %v", first, err)
	}
	second, err := st.InsertIfAbsent(ctx, shot, day)
	if err != nil || second != nil {
		t.Fatalf("duplicate insert = %v, %v", second, err)
	}

	shots, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(shots) != 1 {
		t.Fatalf("stored %d rows, want 1", len(shots))
	}
}

func TestIntegration_ConcurrentDaySequence(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shot := models.Shot{ID: fmt.Sprintf("shot-%d", i), OccurredAt: base.Add(time.Duration(i) * time.Second).UnixMilli(), DurationMs: 20000}
			seq, err := st.InsertIfAbsent(ctx, shot, "2026-03-14")
			if err != nil {
				t.Errorf("insert %d: %v", i, err)
				return
			}
			mu.Lock()
			seqs = append(seqs, *seq)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("day_seq values %v are not exactly 1..%d", seqs, n)
		}
	}
}
