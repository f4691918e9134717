package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSQS struct {
	mu       sync.Mutex
	sent     []string
	pending  []types.Message
	deleted  []string
	received chan struct{}
}

func newFakeSQS(messages ...types.Message) *fakeSQS {
	return &fakeSQS{pending: messages, received: make(chan struct{}, 1)}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(msgs) > 0 {
		return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
	}
	select {
	case f.received <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestInline_RunsHandler(t *testing.T) {
	var got string
	q := NewInline(func(_ context.Context, id string) error { got = id; return nil }, discard())
	require.NoError(t, q.Dispatch(context.Background(), "intent-1"))
	assert.Equal(t, "intent-1", got)

	boom := errors.New("boom")
	q = NewInline(func(context.Context, string) error { return boom }, discard())
	assert.ErrorIs(t, q.Dispatch(context.Background(), "intent-1"), boom)
}

func TestSQS_DispatchIsDeferred(t *testing.T) {
	fake := newFakeSQS()
	q := NewSQS(fake, "https://sqs.test/payouts", discard())

	err := q.Dispatch(context.Background(), "intent-1")
	assert.ErrorIs(t, err, ErrDeferred)
	assert.Equal(t, []string{`{"intent_id":"intent-1"}`}, fake.sent)
}

func TestConsumer_DeletesUnlessRetryable(t *testing.T) {
	retry := errors.New("gateway down")
	permanent := errors.New("no destination")
	fake := newFakeSQS(
		message("ok", `{"intent_id":"a"}`),
		message("retry", `{"intent_id":"b"}`),
		message("perm", `{"intent_id":"c"}`),
		message("junk", `not json`),
	)

	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
		switch id {
		case "b":
			return retry
		case "c":
			return permanent
		}
		return nil
	}
	c := NewConsumer(fake, "https://sqs.test/payouts", handler, func(err error) bool { return errors.Is(err, retry) }, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-fake.received:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, handled)
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.ElementsMatch(t, []string{"rh-ok", "rh-perm", "rh-junk"}, fake.deleted)
}
