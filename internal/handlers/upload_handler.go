package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/models"
	"github.com/ternarybob/ghibliflow/internal/queue"
)

const sniffLength = 512

// uploadRequest holds the non-file form fields of POST /api/process-image
type uploadRequest struct {
	PromptType       string `validate:"max=32"`
	CustomPromptText string `validate:"max=4000"`
	Email            string `validate:"omitempty,email"`
}

// UploadHandler accepts images and hands them to the job queue
type UploadHandler struct {
	queue    interfaces.JobEnqueuer
	prompts  PromptResolver
	config   common.UploadsConfig
	validate *validator.Validate
	logger   arbor.ILogger
	now      func() time.Time
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(queue interfaces.JobEnqueuer, prompts PromptResolver, config common.UploadsConfig, logger arbor.ILogger) *UploadHandler {
	return &UploadHandler{
		queue:    queue,
		prompts:  prompts,
		config:   config,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessImageHandler handles POST /api/process-image.
// The upload is written under a unique name and owned by the queue once
// enqueued; if enqueueing fails the file is removed here.
func (h *UploadHandler) ProcessImageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	maxBytes := int64(h.config.MaxSizeMB) << 20
	if r.ContentLength > maxBytes {
		WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", h.config.MaxSizeMB))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", h.config.MaxSizeMB))
			return
		}
		WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := uploadRequest{
		PromptType:       r.FormValue("promptType"),
		CustomPromptText: r.FormValue("customPromptText"),
		Email:            strings.TrimSpace(r.FormValue("email")),
	}
	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid form fields: "+err.Error())
		return
	}

	prompt, err := h.prompts.Resolve(req.PromptType, req.CustomPromptText)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Missing 'image' file field")
		return
	}
	defer file.Close()

	originalFilename := filepath.Base(header.Filename)
	if originalFilename == "" || originalFilename == "." || originalFilename == string(filepath.Separator) {
		originalFilename = fmt.Sprintf("upload_%d", h.now().UnixMilli())
	}

	path, err := h.save(file, originalFilename)
	if err != nil {
		if errors.Is(err, errNotAnImage) {
			WriteError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("filename", originalFilename).Msg("Failed to save upload")
		WriteError(w, http.StatusInternalServerError, "Failed to save upload")
		return
	}

	job := models.NewJob(path, originalFilename, prompt, req.Email)
	if err := h.queue.Enqueue(job); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			h.logger.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove rejected upload")
		}

		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn().Err(err).Str("filename", originalFilename).Msg("Upload rejected by queue")
		WriteError(w, status, err.Error())
		return
	}

	queueSize := h.queue.Size()

	h.logger.Info().
		Str("job_id", job.ID).
		Str("filename", originalFilename).
		Int64("bytes", header.Size).
		Bool("email", req.Email != "").
		Int("queue_size", queueSize).
		Msg("Upload queued")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"message":          "File added to the processing queue. Check Telegram shortly.",
		"originalFilename": originalFilename,
		"queueSize":        queueSize,
		"jobId":            job.ID,
	})
}

var errNotAnImage = errors.New("uploaded file is not an image")

// save streams the upload into the uploads dir under a unique name
func (h *UploadHandler) save(src io.Reader, originalFilename string) (string, error) {
	head := make([]byte, sniffLength)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	if !strings.HasPrefix(http.DetectContentType(head), "image/") {
		return "", errNotAnImage
	}

	if err := os.MkdirAll(h.config.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	path := filepath.Join(h.config.Dir, uuid.New().String()+ext)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(dst, io.MultiReader(bytes.NewReader(head), src)); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close upload: %w", err)
	}

	return path, nil
}
