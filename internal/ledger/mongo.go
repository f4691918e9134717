package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

const (
	intentsCollection = "payment_intents"
	eventsCollection  = "webhook_events"
	opTimeout         = 5 * time.Second

	openIntentIndex = "open_intent_per_payer"
)

var (
	_ Store    = (*MongoStore)(nil)
	_ EventLog = (*MongoStore)(nil)
)

type MongoStore struct {
	intents *mongo.Collection
	events  *mongo.Collection
	log     *slog.Logger
}

func NewMongoStore(db *mongo.Database, log *slog.Logger) *MongoStore {
	return &MongoStore{
		intents: db.Collection(intentsCollection),
		events:  db.Collection(eventsCollection),
		log:     log,
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes the ledger relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	intentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "idempotency_token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "external_order_token", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "external_payment_token", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "payout_token", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "file_ref", Value: 1}, {Key: "payer_ref", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "created_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "file_ref", Value: 1}, {Key: "payer_ref", Value: 1}},
			Options: options.Index().
				SetName(openIntentIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"state": models.StatePending}),
		},
	}
	if _, err := s.intents.Indexes().CreateMany(ctx, intentIndexes); err != nil {
		s.log.Error("failed to create payment intent indexes", "error", err)
		return fmt.Errorf("failed to create payment intent indexes: %w", err)
	}

	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "outcome", Value: 1}, {Key: "received_at", Value: -1}}},
		{Keys: bson.D{{Key: "order_token", Value: 1}}},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		s.log.Error("failed to create webhook event indexes", "error", err)
		return fmt.Errorf("failed to create webhook event indexes: %w", err)
	}
	return nil
}

type intentDoc struct {
	ID                   string               `bson:"_id"`
	IdempotencyToken     string               `bson:"idempotency_token"`
	FileRef              string               `bson:"file_ref"`
	CreatorRef           string               `bson:"creator_ref"`
	PayerRef             string               `bson:"payer_ref"`
	Amount               primitive.Decimal128 `bson:"amount"`
	Currency             string               `bson:"currency"`
	State                models.State         `bson:"state"`
	Gateway              string               `bson:"gateway"`
	ExternalOrderToken   string               `bson:"external_order_token,omitempty"`
	CheckoutSessionToken string               `bson:"checkout_session_token,omitempty"`
	ExternalPaymentToken string               `bson:"external_payment_token,omitempty"`
	PlatformShare        primitive.Decimal128 `bson:"platform_share"`
	CreatorShare         primitive.Decimal128 `bson:"creator_share"`
	PayoutState          models.PayoutState   `bson:"payout_state"`
	PayoutToken          string               `bson:"payout_token,omitempty"`
	PayoutReason         string               `bson:"payout_reason,omitempty"`
	FailureReason        string               `bson:"failure_reason,omitempty"`
	RefundReason         string               `bson:"refund_reason,omitempty"`
	CreatedAt            time.Time            `bson:"created_at"`
	UpdatedAt            time.Time            `bson:"updated_at"`
	SettledAt            *time.Time           `bson:"settled_at,omitempty"`
	PayoutAt             *time.Time           `bson:"payout_at,omitempty"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

func toDoc(p *models.PaymentIntent) (*intentDoc, error) {
	amount, err := toDecimal128(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("encode amount: %w", err)
	}
	platform, err := toDecimal128(p.PlatformShare)
	if err != nil {
		return nil, fmt.Errorf("encode platform share: %w", err)
	}
	creator, err := toDecimal128(p.CreatorShare)
	if err != nil {
		return nil, fmt.Errorf("encode creator share: %w", err)
	}
	return &intentDoc{
		ID:                   p.ID,
		IdempotencyToken:     p.IdempotencyToken,
		FileRef:              p.FileRef,
		CreatorRef:           p.CreatorRef,
		PayerRef:             p.PayerRef,
		Amount:               amount,
		Currency:             p.Currency,
		State:                p.State,
		Gateway:              p.Gateway,
		ExternalOrderToken:   p.ExternalOrderToken,
		CheckoutSessionToken: p.CheckoutSessionToken,
		ExternalPaymentToken: p.ExternalPaymentToken,
		PlatformShare:        platform,
		CreatorShare:         creator,
		PayoutState:          p.PayoutState,
		PayoutToken:          p.PayoutToken,
		PayoutReason:         p.PayoutReason,
		FailureReason:        p.FailureReason,
		RefundReason:         p.RefundReason,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
		SettledAt:            p.SettledAt,
		PayoutAt:             p.PayoutAt,
	}, nil
}

func (d *intentDoc) model() (*models.PaymentIntent, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount of %s: %w", d.ID, err)
	}
	platform, err := fromDecimal128(d.PlatformShare)
	if err != nil {
		return nil, fmt.Errorf("decode platform share of %s: %w", d.ID, err)
	}
	creator, err := fromDecimal128(d.CreatorShare)
	if err != nil {
		return nil, fmt.Errorf("decode creator share of %s: %w", d.ID, err)
	}
	return &models.PaymentIntent{
		ID:                   d.ID,
		IdempotencyToken:     d.IdempotencyToken,
		FileRef:              d.FileRef,
		CreatorRef:           d.CreatorRef,
		PayerRef:             d.PayerRef,
		Amount:               amount,
		Currency:             d.Currency,
		State:                d.State,
		Gateway:              d.Gateway,
		ExternalOrderToken:   d.ExternalOrderToken,
		CheckoutSessionToken: d.CheckoutSessionToken,
		ExternalPaymentToken: d.ExternalPaymentToken,
		PlatformShare:        platform,
		CreatorShare:         creator,
		PayoutState:          d.PayoutState,
		PayoutToken:          d.PayoutToken,
		PayoutReason:         d.PayoutReason,
		FailureReason:        d.FailureReason,
		RefundReason:         d.RefundReason,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		SettledAt:            d.SettledAt,
		PayoutAt:             d.PayoutAt,
	}, nil
}

func (s *MongoStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := toDoc(intent)
	if err != nil {
		return err
	}
	if _, err := s.intents.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), openIntentIndex) {
				return fmt.Errorf("%w: %v", ErrOpenIntent, err)
			}
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		s.log.Error("failed to insert payment intent", "intent_id", intent.ID, "error", err)
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

func (s *MongoStore) AttachOrder(ctx context.Context, id, orderToken, checkoutToken string) (*models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "external_order_token": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"external_order_token":   orderToken,
		"checkout_session_token": checkoutToken,
		"updated_at":             time.Now().UTC(),
	}}
	intent, err := s.findOneAndUpdate(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrOrderAttached
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: order token %s", ErrDuplicate, orderToken)
		}
		s.log.Error("failed to attach order", "intent_id", id, "order_token", orderToken, "error", err)
		return nil, fmt.Errorf("failed to attach order: %w", err)
	}
	return intent, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.intents.DeleteOne(ctx, bson.M{
		"_id":                  id,
		"state":                models.StatePending,
		"external_order_token": bson.M{"$exists": false},
	})
	if err != nil {
		s.log.Error("failed to delete payment intent", "intent_id", id, "error", err)
		return fmt.Errorf("failed to delete payment intent: %w", err)
	}
	if res.DeletedCount == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotDeletable
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) (*models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc intentDoc
	if err := s.intents.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		s.log.Error("failed to fetch payment intent", "filter", fmt.Sprint(filter), "error", err)
		return nil, fmt.Errorf("failed to fetch payment intent: %w", err)
	}
	return doc.model()
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetByOrderToken(ctx context.Context, orderToken string) (*models.PaymentIntent, error) {
	if orderToken == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"external_order_token": orderToken})
}

func (s *MongoStore) GetByIdempotencyToken(ctx context.Context, token string) (*models.PaymentIntent, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"idempotency_token": token})
}

func (s *MongoStore) GetByPayoutToken(ctx context.Context, payoutToken string) (*models.PaymentIntent, error) {
	if payoutToken == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"payout_token": payoutToken})
}

func (s *MongoStore) LatestForPayer(ctx context.Context, fileRef, payerRef string) (*models.PaymentIntent, error) {
	return s.findOne(ctx,
		bson.M{"file_ref": fileRef, "payer_ref": payerRef},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
}

func (s *MongoStore) find(ctx context.Context, filter any, opts *options.FindOptions) ([]models.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := s.intents.Find(ctx, filter, opts)
	if err != nil {
		s.log.Error("failed to list payment intents", "error", err)
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	defer cur.Close(ctx)

	var docs []intentDoc
	if err := cur.All(ctx, &docs); err != nil {
		s.log.Error("failed to decode payment intents", "error", err)
		return nil, fmt.Errorf("failed to decode payment intents: %w", err)
	}

	out := make([]models.PaymentIntent, 0, len(docs))
	for i := range docs {
		p, err := docs[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *MongoStore) ListByPayer(ctx context.Context, payerRef string) ([]models.PaymentIntent, error) {
	return s.find(ctx, bson.M{"payer_ref": payerRef},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *MongoStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentIntent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{
		"state":      models.StatePending,
		"created_at": bson.M{"$lt": olderThan},
	}, opts)
}

func (s *MongoStore) findOneAndUpdate(ctx context.Context, filter, update any) (*models.PaymentIntent, error) {
	var doc intentDoc
	err := s.intents.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return doc.model()
}

func (s *MongoStore) Transition(ctx context.Context, id string, from []models.State, to models.State, patch Patch) (*models.PaymentIntent, bool, error) {
	if !validTransition(from, to) {
		return nil, false, fmt.Errorf("%w: %v -> %s", ErrInvalidTransition, from, to)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{"state": to, "updated_at": time.Now().UTC()}
	if patch.ExternalPaymentToken != "" {
		set["external_payment_token"] = patch.ExternalPaymentToken
	}
	if patch.FailureReason != "" {
		set["failure_reason"] = patch.FailureReason
	}
	if patch.RefundReason != "" {
		set["refund_reason"] = patch.RefundReason
	}
	if patch.SettledAt != nil {
		set["settled_at"] = patch.SettledAt.UTC()
	}
	if patch.PayoutState != "" {
		set["payout_state"] = patch.PayoutState
	}

	intent, err := s.findOneAndUpdate(ctx,
		bson.M{"_id": id, "state": bson.M{"$in": from}},
		bson.M{"$set": set})
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("%w: payment token %s", ErrDuplicate, patch.ExternalPaymentToken)
		}
		s.log.Error("failed to transition payment intent", "intent_id", id, "to", to, "error", err)
		return nil, false, fmt.Errorf("failed to transition payment intent: %w", err)
	}
	return intent, true, nil
}

func (s *MongoStore) TransitionPayout(ctx context.Context, id string, from []models.PayoutState, to models.PayoutState, patch PayoutPatch) (*models.PaymentIntent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set := bson.M{"payout_state": to, "updated_at": time.Now().UTC()}
	if patch.PayoutToken != "" {
		set["payout_token"] = patch.PayoutToken
	}
	if patch.Reason != "" {
		set["payout_reason"] = patch.Reason
	}
	if patch.PayoutAt != nil {
		set["payout_at"] = patch.PayoutAt.UTC()
	}

	intent, err := s.findOneAndUpdate(ctx,
		bson.M{"_id": id, "payout_state": bson.M{"$in": from}},
		bson.M{"$set": set})
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		s.log.Error("failed to transition payout", "intent_id", id, "to", to, "error", err)
		return nil, false, fmt.Errorf("failed to transition payout: %w", err)
	}
	return intent, true, nil
}

func (s *MongoStore) Record(ctx context.Context, event *models.WebhookEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.events.InsertOne(ctx, event); err != nil {
		s.log.Error("failed to record webhook event", "event_id", event.EventID, "error", err)
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, filter EventFilter) ([]models.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{}
	if filter.Outcome != "" {
		query["outcome"] = filter.Outcome
	}
	if filter.OrderToken != "" {
		query["order_token"] = filter.OrderToken
	}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.events.Find(ctx, query, opts)
	if err != nil {
		s.log.Error("failed to list webhook events", "error", err)
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer cur.Close(ctx)

	var events []models.WebhookEvent
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	return events, nil
}
