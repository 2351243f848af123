package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"zero-trust-session-guard/internal/db"
	"zero-trust-session-guard/internal/db/migrate"
	policydomain "zero-trust-session-guard/internal/policy/domain"
	"zero-trust-session-guard/internal/securityevent/domain"
)

func boolPtr(b bool) *bool { return &b }

// exerciseRepository runs the behavior every Repository implementation must share.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	seed := []*domain.Event{
		{ID: "e1", UserID: "u1", Action: policydomain.ActionTestAPI, RiskLevel: policydomain.RiskMedium, Allowed: true, CreatedAt: base.Add(-40 * time.Minute)},
		{ID: "e2", UserID: "u1", Action: policydomain.ActionTestAPI, RiskLevel: policydomain.RiskMedium, Allowed: true, CreatedAt: base.Add(-30 * time.Second)},
		{ID: "e3", UserID: "u1", Action: policydomain.ActionModifyMFA, RiskLevel: policydomain.RiskHigh, Allowed: false, Reason: "denied", CreatedAt: base.Add(-20 * time.Second)},
		{ID: "e4", UserID: "u1", Action: policydomain.ActionTestAPI, RiskLevel: policydomain.RiskMedium, Allowed: false, CreatedAt: base.Add(-10 * time.Second)},
		{ID: "e5", UserID: "u2", Action: policydomain.ActionTestAPI, RiskLevel: policydomain.RiskMedium, Allowed: true, Latency: 12 * time.Millisecond, CreatedAt: base.Add(-5 * time.Second)},
	}
	for _, e := range seed {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create %s: %v", e.ID, err)
		}
	}

	all, err := repo.ListByUser(ctx, "u1", Query{})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("ListByUser u1 returned %d events, want 4", len(all))
	}
	wantOrder := []string{"e4", "e3", "e2", "e1"}
	for i, id := range wantOrder {
		if all[i].ID != id {
			t.Errorf("event[%d] = %s, want %s (newest first)", i, all[i].ID, id)
		}
	}
	if all[1].Reason != "denied" || all[1].RiskLevel != policydomain.RiskHigh {
		t.Errorf("e3 fields not preserved: %+v", all[1])
	}

	windowed, err := repo.ListByUser(ctx, "u1", Query{Since: base.Add(-30 * time.Minute), Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser windowed: %v", err)
	}
	if len(windowed) != 2 || windowed[0].ID != "e4" || windowed[1].ID != "e3" {
		t.Errorf("windowed list = %v", ids(windowed))
	}

	n, err := repo.CountByUser(ctx, "u1", Query{Since: base.Add(-time.Minute), Action: string(policydomain.ActionTestAPI), Allowed: boolPtr(true)})
	if err != nil {
		t.Fatalf("CountByUser: %v", err)
	}
	if n != 1 {
		t.Errorf("allowed test_api in last minute = %d, want 1", n)
	}

	n, err = repo.CountByUser(ctx, "u1", Query{Since: base.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("CountByUser unfiltered: %v", err)
	}
	if n != 3 {
		t.Errorf("u1 events in last minute = %d, want 3", n)
	}

	u2, err := repo.ListByUser(ctx, "u2", Query{})
	if err != nil || len(u2) != 1 {
		t.Fatalf("ListByUser u2 = %v, %v", ids(u2), err)
	}
	if u2[0].Latency != 12*time.Millisecond {
		t.Errorf("latency = %v, want 12ms", u2[0].Latency)
	}

	removed, err := repo.DeleteBefore(ctx, base.Add(-time.Hour/2))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteBefore removed %d, want 1", removed)
	}
	left, _ := repo.CountByUser(ctx, "u1", Query{})
	if left != 3 {
		t.Errorf("u1 events after cleanup = %d, want 3", left)
	}

	if err := repo.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func ids(events []*domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestMemoryRepository_CreateCopiesEvent(t *testing.T) {
	repo := NewMemoryRepository()
	e := &domain.Event{ID: "e1", UserID: "u1", CreatedAt: time.Now()}
	_ = repo.Create(context.Background(), e)
	e.Allowed = true
	got, _ := repo.ListByUser(context.Background(), "u1", Query{})
	if got[0].Allowed {
		t.Error("stored event must not change when the caller mutates its copy")
	}
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	exerciseRepository(t, NewRedisRepository(client, WithKeyPrefix("test:events")))

	if !mr.Exists("test:events:users") {
		t.Error("users index should use the configured prefix")
	}
}

func TestNewRedisRepositoryFromURL_InvalidURL(t *testing.T) {
	if _, _, err := NewRedisRepositoryFromURL("not-a-valid-url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRedisRepository_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedisRepository(client)
	mr.Close()
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("Ping should fail when redis is down")
	}
}

// TestPostgresRepository runs against a real database when TEST_DATABASE_URL is set.
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer conn.Close()
	truncate(t, conn)
	defer truncate(t, conn)

	exerciseRepository(t, NewPostgresRepository(conn))
}

func truncate(t *testing.T, conn *sql.DB) {
	t.Helper()
	if _, err := conn.Exec(`DELETE FROM security_events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
