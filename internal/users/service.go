package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/docflow/internal/documents"
	"github.com/odyssey-erp/docflow/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Service handles user lookups. It is the actor directory of every command:
// branch, roles and the active flag are always read from storage.
type Service struct {
	repo RepositoryPort
}

var _ documents.ActorDirectory = (*Service)(nil)

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("count users: %w", err)
	}
	p := shared.NewPagination(page, perPage, total)
	users, err := s.repo.ListUsers(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list users: %w", err)
	}
	return users, p, nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, shared.Validation("invalid user id %d", id)
	}
	user, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return User{}, shared.NotFound("user %d not found", id)
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return user, nil
}

// LoadActor resolves the acting user.
func (s *Service) LoadActor(ctx context.Context, id int64) (documents.Actor, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return documents.Actor{}, err
	}
	return user.Actor(), nil
}
