//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("jarvis_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	return dsn
}

func TestHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, startPostgres(t), zap.NewNop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	for i := 0; i < 6; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.AppendTurn(ctx, "tony", role, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.AppendTurn(ctx, "pepper", "user", "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.RecentTurns(ctx, "tony", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	if turns[0].Content != "turn 2" || turns[3].Content != "turn 5" || turns[3].Role != "assistant" {
		t.Fatalf("got %+v, want turns 2..5 oldest first", turns)
	}

	n, err := s.ForgetUser(ctx, "tony")
	if err != nil || n != 6 {
		t.Fatalf("forget: got %d, %v", n, err)
	}
	if turns, _ := s.RecentTurns(ctx, "pepper", 0); len(turns) != 1 {
		t.Fatalf("pepper turns: got %d, want 1", len(turns))
	}
}
