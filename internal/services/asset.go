package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
)

// AssetService stores file metadata. Blobs live in object storage and are
// referenced by StorageKey.
type AssetService struct {
	collection *mongo.Collection
	log        *slog.Logger
}

var _ FileFinder = (*AssetService)(nil)

func NewAssetService(db *mongo.Database, log *slog.Logger) *AssetService {
	return &AssetService{collection: db.Collection("files"), log: log.With("service", "asset")}
}

type NewFile struct {
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	IsPublic   bool            `json:"is_public"`
	StorageKey string          `json:"storage_key"`
	PreviewKey string          `json:"preview_key"`
}

type fileDoc struct {
	ID         string               `bson:"_id"`
	CreatorRef string               `bson:"creator_ref"`
	Title      string               `bson:"title"`
	Price      primitive.Decimal128 `bson:"price"`
	IsPublic   bool                 `bson:"is_public"`
	StorageKey string               `bson:"storage_key"`
	PreviewKey string               `bson:"preview_key,omitempty"`
	CreatedAt  time.Time            `bson:"created_at"`
}

func (d *fileDoc) model() (*models.File, error) {
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, err
	}
	return &models.File{
		ID:         d.ID,
		CreatorRef: d.CreatorRef,
		Title:      d.Title,
		Price:      price,
		IsPublic:   d.IsPublic,
		StorageKey: d.StorageKey,
		PreviewKey: d.PreviewKey,
		CreatedAt:  d.CreatedAt,
	}, nil
}

// ValidateNewFile checks the metadata a creator submits.
func ValidateNewFile(in NewFile) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation("title is required")
	}
	if strings.TrimSpace(in.StorageKey) == "" {
		return apperr.Validation("storage_key is required")
	}
	if in.Price.IsNegative() {
		return apperr.Validation("price must not be negative")
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return apperr.Validation("price has more than two decimal places")
	}
	return nil
}

func (s *AssetService) CreateFile(ctx context.Context, creatorID string, in NewFile) (*models.File, error) {
	if err := ValidateNewFile(in); err != nil {
		return nil, err
	}
	price, err := primitive.ParseDecimal128(in.Price.String())
	if err != nil {
		return nil, apperr.Validation("invalid price: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := &fileDoc{
		ID:         newID(),
		CreatorRef: creatorID,
		Title:      strings.TrimSpace(in.Title),
		Price:      price,
		IsPublic:   in.IsPublic,
		StorageKey: strings.TrimSpace(in.StorageKey),
		PreviewKey: strings.TrimSpace(in.PreviewKey),
		CreatedAt:  time.Now(),
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		s.log.Error("Failed to create file", "creator_id", creatorID, "error", err)
		return nil, err
	}
	s.log.Info("File created", "file_id", doc.ID, "creator_id", creatorID, "price", in.Price.String())
	return doc.model()
}

func (s *AssetService) GetFile(ctx context.Context, id string) (*models.File, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc fileDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("file %s not found", id)
		}
		s.log.Error("Failed to fetch file", "file_id", id, "error", err)
		return nil, err
	}
	return doc.model()
}
