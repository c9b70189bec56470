package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/asic/internal/api/dto"
	apierrors "github.com/remiblancher/asic/internal/api/errors"
	"github.com/remiblancher/asic/internal/api/service"
	"github.com/remiblancher/asic/pkg/asic"
)

// ContainerHandler handles container HTTP requests.
type ContainerHandler struct {
	service *service.ContainerService
}

// NewContainerHandler creates a new ContainerHandler.
func NewContainerHandler(containerService *service.ContainerService) *ContainerHandler {
	return &ContainerHandler{service: containerService}
}

// Create handles POST /api/v1/containers
func (h *ContainerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateContainerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/containers/"+resp.ID)
	respondJSON(w, http.StatusCreated, resp)
}

// Get handles GET /api/v1/containers/{id}
func (h *ContainerHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Download handles GET /api/v1/containers/{id}/download
func (h *ContainerHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, ext, err := h.service.Download(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	mime := asic.MimeTypeASiCE
	if ext == ".asics" {
		mime = asic.MimeTypeASiCS
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+ext+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Delete handles DELETE /api/v1/containers/{id}
func (h *ContainerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DataToSign handles POST /api/v1/containers/{id}/datatosign
func (h *ContainerHandler) DataToSign(w http.ResponseWriter, r *http.Request) {
	var req dto.DataToSignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.DataToSign(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// Finalize handles POST /api/v1/sessions/{id}/finalize
func (h *ContainerHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req dto.FinalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Finalize(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Extend handles POST /api/v1/containers/{id}/extend
func (h *ContainerHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req dto.ExtendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.service.Extend(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Timestamp handles POST /api/v1/containers/{id}/timestamp. The body is
// optional.
func (h *ContainerHandler) Timestamp(w http.ResponseWriter, r *http.Request) {
	var req dto.TimestampRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Unreadable request body"))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body"))
			return
		}
	}

	resp, err := h.service.Timestamp(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Validate handles POST /api/v1/containers/{id}/validate
func (h *ContainerHandler) Validate(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
