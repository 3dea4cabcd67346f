package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/nidhogg/jarvis-hub/internal/provider"
)

// DefaultTurnLimit caps RecentTurns when the caller passes no limit.
const DefaultTurnLimit = 50

// AppendTurn stores one conversation turn for userID.
func (s *Store) AppendTurn(ctx context.Context, userID, role, content string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_turns (id, user_id, role, content)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), userID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the user's last limit turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]provider.Message, error) {
	if limit <= 0 {
		limit = DefaultTurnLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content
		FROM conversation_turns
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var m provider.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ForgetUser deletes every stored turn for userID.
func (s *Store) ForgetUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversation_turns WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("forget user: %w", err)
	}
	return tag.RowsAffected(), nil
}
