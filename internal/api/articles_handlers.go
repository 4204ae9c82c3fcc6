package api

import (
	"errors"
	"net/http"

	"contenthub/internal/models"
	"contenthub/internal/validation"
)

type articleRequest struct {
	Title    *string       `json:"title"`
	Content  *string       `json:"content"`
	Category *string       `json:"category"`
	Author   *string       `json:"author"`
	ImageURL optionalField `json:"imageUrl"`
}

func (req articleRequest) values() validation.Values {
	values := validation.Values{}
	setValue(values, "title", req.Title)
	setValue(values, "content", req.Content)
	setValue(values, "category", req.Category)
	setValue(values, "author", req.Author)
	setValue(values, "imageUrl", req.ImageURL.value)
	return values
}

func (req articleRequest) input() models.ArticleInput {
	return models.ArticleInput{
		Title:    normalizedPtr(req.Title),
		Content:  normalizedPtr(req.Content),
		Category: normalizedPtr(req.Category),
		Author:   normalizedPtr(req.Author),
		ImageURL: req.ImageURL.text(),
	}
}

type createdResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type updatedResponse[T any] struct {
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Articles serves GET and POST /api/articles.
func (h *Handler) Articles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		articles, err := h.Content.ListArticles(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, articles)
	case http.MethodPost:
		if _, ok := h.requireAdmin(w, r); !ok {
			return
		}
		req, ok := h.decodeArticle(w, r)
		if !ok {
			return
		}
		article, err := h.Content.CreateArticle(r.Context(), req.input())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.metrics().ObserveContentMutation("article", "create")
		writeJSON(w, http.StatusCreated, createdResponse{ID: article.ID, Message: "Article saved successfully"})
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// ArticleByID serves PUT and DELETE /api/articles/{id}.
func (h *Handler) ArticleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "PUT, DELETE")
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	id := resourceID(r, "/api/articles/")
	if id == "" {
		writeError(w, http.StatusNotFound, errors.New("article not found"))
		return
	}
	if r.Method == http.MethodDelete {
		if err := h.Content.DeleteArticle(r.Context(), id); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		h.metrics().ObserveContentMutation("article", "delete")
		writeJSON(w, http.StatusOK, messageResponse{Message: "Article deleted successfully"})
		return
	}
	req, ok := h.decodeArticle(w, r)
	if !ok {
		return
	}
	article, err := h.Content.UpdateArticle(r.Context(), id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.metrics().ObserveContentMutation("article", "update")
	writeJSON(w, http.StatusOK, updatedResponse[models.Article]{Message: "Article updated successfully", Data: article})
}

func (h *Handler) decodeArticle(w http.ResponseWriter, r *http.Request) (articleRequest, bool) {
	var req articleRequest
	if err := decodeJSONAllowUnknown(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return articleRequest{}, false
	}
	if err := validation.ArticleRules.Validate(req.values()); err != nil {
		h.writeServiceError(w, r, err)
		return articleRequest{}, false
	}
	return req, true
}

func setValue(values validation.Values, field string, value *string) {
	if value != nil {
		values[field] = *value
	}
}

func normalized(value string) string {
	return validation.Normalize(value)
}

func normalizedPtr(value *string) string {
	if value == nil {
		return ""
	}
	return normalized(*value)
}
