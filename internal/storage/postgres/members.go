package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

// GetMember retrieves a member by ID.
func (s *PostgresStore) GetMember(ctx context.Context, id string) (*models.Person, error) {
	member := &models.Person{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM members WHERE id = $1`,
		id,
	).Scan(&member.ID, &member.Name, &member.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// EnsureMember inserts a member row unless one already exists.
func (s *PostgresStore) EnsureMember(ctx context.Context, id, name string) (*models.Person, bool, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO members (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`,
		id, name,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure member: %w", err)
	}

	member, err := s.GetMember(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return member, n > 0, nil
}

// ListFriends returns the friends of userID.
func (s *PostgresStore) ListFriends(ctx context.Context, userID string) ([]models.Person, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT m.id, m.name, m.created_at
		FROM friends f
		JOIN members m ON m.id = f.friend_id
		WHERE f.user_id = $1
		ORDER BY m.name, m.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	friends := []models.Person{}
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating friends: %w", err)
	}
	return friends, nil
}

// AddFriend records friendID as a friend of userID.
func (s *PostgresStore) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, friend_id) DO NOTHING`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("failed to add friend: %w", err)
	}
	return nil
}
