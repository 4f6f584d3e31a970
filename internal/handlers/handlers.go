package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"github.com/ilikefeeling/reshk-sub001/internal/api"
	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/auth"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/ilikefeeling/reshk-sub001/internal/recovery"
	"github.com/ilikefeeling/reshk-sub001/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	maxUploadBytes = 10 << 20
	maxBodyBytes   = 1 << 20
)

// ImageUploader stores uploaded photos and returns their public URL
type ImageUploader interface {
	UploadImage(ctx context.Context, data []byte, filename, contentType string) (*storage.UploadedImage, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Handler contains all HTTP handlers
type Handler struct {
	svc    *recovery.Service
	images ImageUploader
	checks map[string]HealthCheck
}

// NewHandler creates a new handler instance. images may be nil, which disables uploads.
func NewHandler(svc *recovery.Service, images ImageUploader, checks map[string]HealthCheck) *Handler {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	return &Handler{svc: svc, images: images, checks: checks}
}

func actor(r *http.Request) models.Actor {
	return auth.ActorFrom(r.Context())
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// decode reads a JSON body into v, rejecting unknown fields
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validationf("request body is required")
		}
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

type idsBody struct {
	IDs []string `json:"ids"`
}

// HealthCheckHandler returns health status
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = "unhealthy"
			checks[name] = err.Error()
			log.Warn().Err(err).Str("check", name).Msg("Health check failed")
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// UploadImageHandler stores a photo and returns its URL together with any
// capture metadata read from the file.
func (h *Handler) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	if h.images == nil {
		api.WriteError(w, r, apperr.New(apperr.UpstreamUnavailable, "image storage not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		log.Error().Err(err).Msg("Failed to parse form")
		api.WriteError(w, r, apperr.Validationf("failed to parse form"))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		api.WriteError(w, r, apperr.Validationf("image is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		api.WriteError(w, r, apperr.Validationf("only image files are allowed"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read image")
		api.WriteError(w, r, apperr.Validationf("failed to read image"))
		return
	}

	img, err := h.images.UploadImage(r.Context(), data, header.Filename, contentType)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upload image")
		api.WriteError(w, r, apperr.Wrap(apperr.UpstreamUnavailable, err, "failed to upload image"))
		return
	}

	log.Info().
		Str("key", img.Key).
		Str("uploader_id", actor(r).UserID).
		Bool("has_capture", !img.Capture.Empty()).
		Msg("Image uploaded")

	api.WriteJSON(w, http.StatusCreated, img)
}
