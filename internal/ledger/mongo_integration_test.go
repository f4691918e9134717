//go:build integration

package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

func startMongo(t *testing.T, ctx context.Context) *mongo.Database {
	t.Helper()

	req := tc.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client.Database("ledger_test")
}

func TestMongoStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMongoStore(startMongo(t, ctx), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.EnsureIndexes(ctx))

	created := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Create(ctx, newIntent("a", created)))

	dup := newIntent("b", created)
	dup.PayerRef = "payer-2"
	dup.IdempotencyToken = "idem-a"
	assert.ErrorIs(t, s.Create(ctx, dup), ErrDuplicate)
	assert.ErrorIs(t, s.Create(ctx, newIntent("b", created)), ErrOpenIntent)

	_, err := s.AttachOrder(ctx, "a", "inv-1", "https://checkout/inv-1")
	require.NoError(t, err)
	_, err = s.AttachOrder(ctx, "a", "inv-2", "")
	assert.ErrorIs(t, err, ErrOrderAttached)
	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotDeletable)

	got, err := s.GetByOrderToken(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "500", got.Amount.String())
	assert.Equal(t, "450", got.CreatorShare.String())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settled := time.Now()
			_, applied, err := s.Transition(ctx, "a", []models.State{models.StatePending}, models.StateCompleted, Patch{SettledAt: &settled})
			assert.NoError(t, err)
			if applied {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.NotNil(t, got.SettledAt)

	_, applied, err := s.TransitionPayout(ctx, "a", []models.PayoutState{models.PayoutPending}, models.PayoutProcessing, PayoutPatch{PayoutToken: "disb-1"})
	require.NoError(t, err)
	assert.True(t, applied)

	byPayout, err := s.GetByPayoutToken(ctx, "disb-1")
	require.NoError(t, err)
	assert.Equal(t, "a", byPayout.ID)

	require.NoError(t, s.Create(ctx, newIntent("c", created.Add(-time.Hour))))
	require.NoError(t, s.Delete(ctx, "c"))
	_, err = s.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}
