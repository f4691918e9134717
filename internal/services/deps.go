package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

type FileFinder interface {
	GetFile(ctx context.Context, id string) (*models.File, error)
}

type UserFinder interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

func newID() string { return uuid.NewString() }

// payoutReference is the merchant reference sent with a payout. It doubles
// as the gateway idempotency key, so a retried dispatch is not paid twice.
func payoutReference(intentID string) string { return intentID + "-payout" }
