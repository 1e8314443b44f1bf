// Package roster builds the set of people a bill may be split between.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

// Directory looks up members and their friends.
type Directory interface {
	GetMember(ctx context.Context, id string) (*models.Person, error)
	ListFriends(ctx context.Context, userID string) ([]models.Person, error)
}

// Provisioner creates a member row for a user on first use.
type Provisioner struct {
	members     storage.MemberStore
	defaultName string
	logger      *slog.Logger
}

// NewProvisioner creates a Provisioner. An empty defaultName means models.DefaultMemberName.
func NewProvisioner(members storage.MemberStore, defaultName string, logger *slog.Logger) *Provisioner {
	if defaultName == "" {
		defaultName = models.DefaultMemberName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{members: members, defaultName: defaultName, logger: logger}
}

// Ensure makes sure userID has a member row. Safe to call repeatedly and concurrently.
func (p *Provisioner) Ensure(ctx context.Context, userID string) (*models.Person, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	member, created, err := p.members.EnsureMember(ctx, userID, p.defaultName)
	if err != nil {
		return nil, fmt.Errorf("failed to provision member %s: %w", userID, err)
	}
	if created {
		p.logger.Info("Member provisioned", "user_id", userID, "name", member.Name)
	}
	return member, nil
}

// Resolve returns the friends of userID followed by userID itself, deduplicated by ID.
// A user without a member row is left out; the caller decides whether that's an error.
func Resolve(ctx context.Context, dir Directory, userID string) ([]models.Person, error) {
	friends, err := dir.ListFriends(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch friends of %s: %w", userID, err)
	}

	people := make([]models.Person, 0, len(friends)+1)
	seen := make(map[string]bool, len(friends)+1)
	add := func(p models.Person) {
		if p.ID == "" || seen[p.ID] {
			return
		}
		seen[p.ID] = true
		people = append(people, models.Person{ID: p.ID, Name: p.Name})
	}

	for _, f := range friends {
		add(f)
	}

	self, err := dir.GetMember(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	default:
		add(*self)
	}

	return people, nil
}

// Contains reports whether id belongs to someone in people.
func Contains(people []models.Person, id string) bool {
	for _, p := range people {
		if p.ID == id {
			return true
		}
	}
	return false
}
