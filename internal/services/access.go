package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/assetvault-gobackend/internal/apperr"
	"github.com/markjakearzadon/assetvault-gobackend/internal/ledger"
	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/storage"
)

type Verdict string

const (
	Authorized      Verdict = "authorized"
	PaymentRequired Verdict = "payment_required"
	Forbidden       Verdict = "forbidden"
)

type Decision struct {
	Verdict  Verdict          `json:"verdict"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// AccessService decides who may download a file. Decisions are computed
// from the ledger on every call and never cached, so a refund takes effect
// on the next request.
type AccessService struct {
	store    ledger.Store
	files    FileFinder
	signer   storage.Signer
	currency string
	log      *slog.Logger
}

func NewAccessService(store ledger.Store, files FileFinder, signer storage.Signer, currency string, log *slog.Logger) *AccessService {
	return &AccessService{
		store:    store,
		files:    files,
		signer:   signer,
		currency: currency,
		log:      log.With("service", "access"),
	}
}

func (s *AccessService) CanDownload(ctx context.Context, file *models.File, requesterID string) (Decision, error) {
	if requesterID != "" && requesterID == file.CreatorRef {
		return Decision{Verdict: Authorized}, nil
	}
	if !file.IsPublic {
		return Decision{Verdict: Forbidden}, nil
	}
	if !file.Paid() {
		return Decision{Verdict: Authorized}, nil
	}

	required := Decision{Verdict: PaymentRequired, Price: &file.Price, Currency: s.currency}
	if requesterID == "" {
		return required, nil
	}
	latest, err := s.store.LatestForPayer(ctx, file.ID, requesterID)
	if errors.Is(err, ledger.ErrNotFound) {
		return required, nil
	}
	if err != nil {
		s.log.Error("Failed to look up purchase", "file_id", file.ID, "requester", requesterID, "error", err)
		return Decision{}, err
	}
	if latest.State == models.StateCompleted {
		return Decision{Verdict: Authorized}, nil
	}
	return required, nil
}

// Grant is an authorized download.
type Grant struct {
	Decision
	Link *storage.Link `json:"link,omitempty"`
}

// Download resolves the file and, when authorized, hands back a signed URL
// for its blob. Non-authorized decisions are returned without a link.
func (s *AccessService) Download(ctx context.Context, fileID, requesterID string) (*Grant, error) {
	file, err := s.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	decision, err := s.CanDownload(ctx, file, requesterID)
	if err != nil {
		return nil, err
	}
	if decision.Verdict != Authorized {
		return &Grant{Decision: decision}, nil
	}

	link, err := s.signer.SignedURL(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, apperr.Wrap(apperr.KindInternal, err, "downloads are unavailable")
		}
		s.log.Error("Failed to sign download URL", "file_id", fileID, "error", err)
		return nil, err
	}
	s.log.Info("Download granted", "file_id", fileID, "requester", requesterID, "expires_at", link.ExpiresAt)
	return &Grant{Decision: decision, Link: link}, nil
}
