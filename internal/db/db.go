package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// IndexEnsurer is implemented by stores that own collection indexes.
type IndexEnsurer interface {
	EnsureIndexes(ctx context.Context) error
}

// Connect opens a MongoDB client and pings the primary before returning it.
func Connect(ctx context.Context, uri string, log *slog.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("Connected to MongoDB")
	return client, nil
}

// Disconnect closes the client, waiting at most 10 seconds.
func Disconnect(client *mongo.Client, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		log.Error("Error disconnecting from MongoDB", "error", err)
	}
}

// EnsureIndexes bootstraps the indexes of every store, stopping at the
// first failure.
func EnsureIndexes(ctx context.Context, stores ...IndexEnsurer) error {
	for _, s := range stores {
		if err := s.EnsureIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
