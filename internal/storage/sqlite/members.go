package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

// GetMember retrieves a member by ID.
func (s *SQLiteStore) GetMember(ctx context.Context, id string) (*models.Person, error) {
	query := `
		SELECT id, name, created_at
		FROM members
		WHERE id = ?
	`

	var createdAt int64
	member := &models.Person{}
	err := s.q.QueryRowContext(ctx, query, id).Scan(&member.ID, &member.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	member.CreatedAt = time.Unix(createdAt, 0).UTC()

	return member, nil
}

// EnsureMember inserts a member row unless one already exists.
// An existing member keeps its name.
func (s *SQLiteStore) EnsureMember(ctx context.Context, id, name string) (*models.Person, bool, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO members (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, name, time.Now().Unix(),
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
func (s *SQLiteStore) ListFriends(ctx context.Context, userID string) ([]models.Person, error) {
	query := `
		SELECT m.id, m.name, m.created_at
		FROM friends f
		JOIN members m ON m.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY m.name, m.id
	`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	friends := []models.Person{}
	for rows.Next() {
		var p models.Person
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		friends = append(friends, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating friends: %w", err)
	}

	return friends, nil
}

// AddFriend records friendID as a friend of userID. Both members must exist.
func (s *SQLiteStore) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, friend_id) DO NOTHING`,
		userID, friendID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add friend: %w", err)
	}
	return nil
}
