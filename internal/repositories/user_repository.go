package repositories

import (
	"context"

	"github.com/readaloud/client/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	Update(ctx context.Context, user models.User) error
	// ConsumeCredit decrements the balance, failing with ErrNoCredits at zero.
	ConsumeCredit(ctx context.Context, id string) (models.User, error)
}
