package api

import (
	"errors"
	"net/http"

	"contenthub/internal/models"
	"contenthub/internal/validation"
)

type videoRequest struct {
	Title               *string       `json:"title"`
	YoutubeURL          *string       `json:"youtubeUrl"`
	ThumbnailURL        optionalField `json:"thumbnailUrl"`
	ThumbnailStorageKey optionalField `json:"thumbnailStorageKey"`
	// ThumbnailPublicID is the name older admin clients send.
	ThumbnailPublicID optionalField `json:"thumbnailPublicId"`
	Category          *string       `json:"category"`
}

func (req videoRequest) values() validation.Values {
	values := validation.Values{}
	setValue(values, "title", req.Title)
	setValue(values, "youtubeUrl", req.YoutubeURL)
	setValue(values, "thumbnailUrl", req.ThumbnailURL.value)
	setValue(values, "category", req.Category)
	return values
}

func (req videoRequest) input() models.VideoInput {
	key := req.ThumbnailStorageKey
	if !key.set {
		key = req.ThumbnailPublicID
	}
	return models.VideoInput{
		Title:               normalizedPtr(req.Title),
		YoutubeURL:          normalizedPtr(req.YoutubeURL),
		ThumbnailURL:        req.ThumbnailURL.text(),
		ThumbnailStorageKey: key.text(),
		Category:            optionalText(req.Category),
	}
}

// Videos serves GET and POST /api/videos.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		videos, err := h.Content.ListVideos(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, videos)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		req, ok := h.decodeVideo(w, r)
		if !ok {
			return
		}
		video, err := h.Content.CreateVideo(r.Context(), req.input())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.metrics().ObserveContentMutation("video", "create")
		writeJSON(w, http.StatusCreated, createdResponse{ID: video.ID, Message: "Video saved successfully"})
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// VideoByID serves PUT and DELETE /api/videos/{id}.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "PUT, DELETE")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	id := resourceID(r, "/api/videos/")
	if id == "" {
		writeError(w, http.StatusNotFound, errors.New("video not found"))
		return
	}
	if r.Method == http.MethodDelete {
		if err := h.Content.DeleteVideo(r.Context(), id); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.metrics().ObserveContentMutation("video", "delete")
		writeJSON(w, http.StatusOK, messageResponse{Message: "Video deleted successfully"})
		return
	}
	req, ok := h.decodeVideo(w, r)
	if !ok {
		return
	}
	video, err := h.Content.UpdateVideo(r.Context(), id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.metrics().ObserveContentMutation("video", "update")
	writeJSON(w, http.StatusOK, updatedResponse[models.Video]{Message: "Video updated successfully", Data: video})
}

func (h *Handler) decodeVideo(w http.ResponseWriter, r *http.Request) (videoRequest, bool) {
	var req videoRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return videoRequest{}, false
	}
	if err := validation.VideoRules.Validate(req.values()); err != nil {
		h.writeServiceError(w, r, err)
		return videoRequest{}, false
	}
	return req, true
}
