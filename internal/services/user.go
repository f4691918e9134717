package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

// payoutHandle matches UPI-style handles (name@bank) and plain emails.
var payoutHandle = regexp.MustCompile(`^[A-Za-z0-9._\-]{2,256}@[A-Za-z0-9.\-]{2,64}$`)

type UserService struct {
	collection *mongo.Collection
	log        *slog.Logger
}

var _ UserFinder = (*UserService)(nil)

func NewUserService(db *mongo.Database, log *slog.Logger) *UserService {
	return &UserService{collection: db.Collection("user"), log: log.With("service", "user")}
}

func (s *UserService) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		s.log.Error("Failed to create user indexes", "error", err)
		return err
	}
	return nil
}

func (s *UserService) CreateUser(ctx context.Context, fullName, email, password string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Validation("password cannot be hashed: %v", err)
	}

	user := &models.User{
		ID:        primitive.NewObjectID(),
		FullName:  strings.TrimSpace(fullName),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		HPassword: string(hashed),
		Role:      models.RoleMember,
		CreatedAt: time.Now(),
	}
	if _, err := s.collection.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperr.Conflict("email %s is already registered", user.Email)
		}
		s.log.Error("Failed to create user", "error", err)
		return nil, err
	}
	s.log.Info("User created", "user_id", user.ID.Hex())
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFound("user %s not found", id)
	}

	var user models.User
	if err := s.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user %s not found", id)
		}
		s.log.Error("Failed to fetch user", "user_id", id, "error", err)
		return nil, err
	}
	return &user, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var user models.User
	err := s.collection.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
		}
		s.log.Error("Failed to fetch user for login", "error", err)
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HPassword), []byte(password)); err != nil {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}
	return &user, nil
}

// SetPayoutDestination registers where the creator's share is sent.
func (s *UserService) SetPayoutDestination(ctx context.Context, id, destination string) (*models.User, error) {
	destination = strings.TrimSpace(destination)
	if err := ValidatePayoutDestination(destination); err != nil {
		return nil, err
	}
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFound("user %s not found", id)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var user models.User
	err = s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": objID},
		bson.M{"$set": bson.M{"payout_destination": destination}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user %s not found", id)
		}
		s.log.Error("Failed to set payout destination", "user_id", id, "error", err)
		return nil, err
	}
	s.log.Info("Payout destination updated", "user_id", id)
	return &user, nil
}

func ValidatePayoutDestination(destination string) error {
	if !payoutHandle.MatchString(destination) {
		return apperr.Validation("payout destination must look like name@bank")
	}
	return nil
}
