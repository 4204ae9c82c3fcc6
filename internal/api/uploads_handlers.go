package api

import (
	"net/http"

	"contenthub/internal/storage"
)

// UploadArticleImage serves POST /api/upload/article-image.
func (h *Handler) UploadArticleImage(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.BucketArticleImages)
}

// UploadVideoThumbnail serves POST /api/upload/video-thumbnail.
func (h *Handler) UploadVideoThumbnail(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, storage.BucketVideoThumbnails)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request, bucket storage.Bucket) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	guard := h.uploadGuard()
	recorder := h.metrics()

	file, err := guard.Read(r)
	if err != nil {
		recorder.ObserveUpload(string(bucket), "rejected")
		h.writeServiceError(w, r, err)
		return
	}
	name, err := guard.FileName(file)
	if err != nil {
		recorder.ObserveUpload(string(bucket), "failed")
		h.writeServiceError(w, r, err)
		return
	}
	asset, err := h.Content.UploadAsset(r.Context(), bucket, name, file.Data, file.ContentType)
	if err != nil {
		recorder.ObserveUpload(string(bucket), "failed")
		h.writeServiceError(w, r, err)
		return
	}
	recorder.ObserveUpload(string(bucket), "stored")
	writeJSON(w, http.StatusOK, asset)
}
