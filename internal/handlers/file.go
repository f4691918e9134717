package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/markjakearzadon/assetvault-gobackend/internal/models"
	"github.com/markjakearzadon/assetvault-gobackend/internal/services"
)

type FileService interface {
	CreateFile(ctx context.Context, creatorID string, in services.NewFile) (*models.File, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
}

type AccessService interface {
	CanDownload(ctx context.Context, file *models.File, requesterID string) (services.Decision, error)
	Download(ctx context.Context, fileID, requesterID string) (*services.Grant, error)
}

// FileHandler serves file metadata and download decisions.
type FileHandler struct {
	files  FileService
	access AccessService
	log    *slog.Logger
}

func NewFileHandler(files FileService, access AccessService, log *slog.Logger) *FileHandler {
	return &FileHandler{files: files, access: access, log: log.With("handler", "file")}
}

func (h *FileHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req services.NewFile
	if err := decodeValid(w, r, createFileLoader, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	file, err := h.files.CreateFile(r.Context(), identity(r).UserID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := requireVar(mux.Vars(r), "fileID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	file, err := h.files.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// Access reports the verdict without issuing a download link.
func (h *FileHandler) Access(w http.ResponseWriter, r *http.Request) {
	fileID, err := requireVar(mux.Vars(r), "fileID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	file, err := h.files.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	decision, err := h.access.CanDownload(r.Context(), file, identity(r).UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	fileID, err := requireVar(mux.Vars(r), "fileID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	grant, err := h.access.Download(r.Context(), fileID, identity(r).UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	switch grant.Verdict {
	case services.Authorized:
		writeJSON(w, http.StatusOK, grant)
	case services.PaymentRequired:
		writeJSON(w, http.StatusPaymentRequired, grant.Decision)
	default:
		writeJSON(w, http.StatusForbidden, grant.Decision)
	}
}
