// Package directory is the boundary to the user directory, an external
// collaborator. The core only needs audience resolution; the production
// deployment plugs a real directory client behind Provider.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Provider resolves audiences. Product audiences can be arbitrarily large,
// so that lookup is paged.
type Provider interface {
	AllUserIDs(ctx context.Context) ([]uuid.UUID, error)
	UserIDsByRole(ctx context.Context, role string) ([]uuid.UUID, error)
	UserIDsByProduct(ctx context.Context, product string, offset, limit int) ([]uuid.UUID, error)
}

// User is one directory entry of the static provider.
type User struct {
	ID       uuid.UUID `json:"id"`
	Role     string    `json:"role"`
	Products []string  `json:"products"`
}

// StaticProvider serves a fixed user set, loaded from a seed file or
// populated programmatically. It backs single-node deployments and tests.
type StaticProvider struct {
	mu    sync.RWMutex
	users []User
}

func NewStaticProvider(users ...User) *StaticProvider {
	return &StaticProvider{users: users}
}

// LoadStaticProvider reads a JSON seed file of users.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory seed %s: %w", path, err)
	}
	var users []User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode directory seed %s: %w", path, err)
	}
	return NewStaticProvider(users...), nil
}

func (p *StaticProvider) Add(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, u)
}

func (p *StaticProvider) AllUserIDs(_ context.Context) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, u.ID)
	}
	return out, nil
}

func (p *StaticProvider) UserIDsByRole(_ context.Context, role string) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []uuid.UUID
	for _, u := range p.users {
		if u.Role == role {
			out = append(out, u.ID)
		}
	}
	return out, nil
}

func (p *StaticProvider) UserIDsByProduct(_ context.Context, product string, offset, limit int) ([]uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var matched []uuid.UUID
	for _, u := range p.users {
		for _, pr := range u.Products {
			if pr == product {
				matched = append(matched, u.ID)
				break
			}
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
