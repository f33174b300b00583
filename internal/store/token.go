package store

import (
	"context"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// APITokenStore persists bearer tokens for the HTTP surface. Secrets
// are stored as salted hashes only.
type APITokenStore interface {
	Create(ctx context.Context, t *model.APIToken) error
	Get(ctx context.Context, id string) (*model.APIToken, error)
	GetByName(ctx context.Context, name string) (*model.APIToken, error)
	List(ctx context.Context) ([]*model.APIToken, error)
	Update(ctx context.Context, t *model.APIToken) error
	Delete(ctx context.Context, id string) error
}
