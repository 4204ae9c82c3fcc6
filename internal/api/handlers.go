package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"contenthub/internal/auth"
	"contenthub/internal/models"
	"contenthub/internal/observability/logging"
	"contenthub/internal/observability/metrics"
	"contenthub/internal/storage"
	"contenthub/internal/uploads"
)

// ContentStore is the persistence surface the handlers depend on.
// *storage.Gateway satisfies it.
type ContentStore interface {
	ListArticles(ctx context.Context) ([]models.Article, error)
	CreateArticle(ctx context.Context, in models.ArticleInput) (models.Article, error)
	UpdateArticle(ctx context.Context, id string, in models.ArticleInput) (*models.Article, error)
	DeleteArticle(ctx context.Context, id string) error

	ListVideos(ctx context.Context) ([]models.Video, error)
	CreateVideo(ctx context.Context, in models.VideoInput) (models.Video, error)
	UpdateVideo(ctx context.Context, id string, in models.VideoInput) (*models.Video, error)
	DeleteVideo(ctx context.Context, id string) error

	UploadAsset(ctx context.Context, bucket storage.Bucket, fileName string, body []byte, contentType string) (models.Asset, error)
}

// HealthCheck checks one dependency for GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	Content      ContentStore
	Tokens       *auth.TokenService
	Credentials  *auth.Credentials
	Uploads      *uploads.Guard
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
	HealthChecks []HealthCheck
	// HealthTimeout bounds every check; zero means five seconds.
	HealthTimeout time.Duration
}

func NewHandler(content ContentStore, tokens *auth.TokenService, credentials *auth.Credentials) *Handler {
	return &Handler{
		Content:     content,
		Tokens:      tokens,
		Credentials: credentials,
		Uploads:     uploads.NewGuard(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

// defaultGuard serves handlers built without an explicit Uploads guard.
var defaultGuard = uploads.NewGuard()

func (h *Handler) uploadGuard() *uploads.Guard {
	if h.Uploads == nil {
		return defaultGuard
	}
	return h.Uploads
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges the admin credentials for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errMissingLoginData)
		return
	}
	if h.Credentials == nil || h.Tokens == nil {
		h.writeServiceError(w, r, errors.New("login is not configured"))
		return
	}
	if err := h.Credentials.Verify(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.requestLogger(r).Warn("login rejected", "username", req.Username)
			writeError(w, http.StatusUnauthorized, errInvalidLogin)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	token, expiresAt, err := h.Tokens.Issue(h.Credentials.Username())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	logging.SetRequestActor(r.Context(), h.Credentials.Username())
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services []componentStatus `json:"services"`
}

// Health checks every configured dependency concurrently.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET, HEAD")
		return
	}
	timeout := h.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	services := make([]componentStatus, len(h.HealthChecks))
	var group errgroup.Group
	for i, check := range h.HealthChecks {
		group.Go(func() error {
			status := componentStatus{Component: check.Name, Status: "ok"}
			if check.Check != nil {
				if err := check.Check(ctx); err != nil {
					status.Status = "error"
					status.Error = err.Error()
				}
			}
			services[i] = status
			return nil
		})
	}
	_ = group.Wait()

	overall := "ok"
	code := http.StatusOK
	recorder := h.metrics()
	for _, svc := range services {
		healthy := svc.Status == "ok"
		recorder.SetDependencyHealth(svc.Component, healthy)
		if !healthy {
			overall = "degraded"
			code = http.StatusServiceUnavailable
			h.requestLogger(r).Warn("dependency unhealthy", "component", svc.Component, "error", svc.Error)
		}
	}
	writeJSON(w, code, healthResponse{Status: overall, Services: services})
}

// resourceID reads the {id} route parameter, falling back to the path
// segment after prefix when the request was not routed through chi.
func resourceID(r *http.Request, prefix string) string {
	if id := strings.TrimSpace(chi.URLParam(r, "id")); id != "" {
		return id
	}
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == r.URL.Path {
		return ""
	}
	rest = strings.Trim(rest, "/")
	if strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// optionalField records whether a clearable field was sent at all. A field
// sent as null or "" clears the stored value; an absent one keeps it.
type optionalField struct {
	set   bool
	value *string
}

func (f *optionalField) UnmarshalJSON(data []byte) error {
	f.set = true
	f.value = nil
	if string(data) == "null" {
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	f.value = &value
	return nil
}

func (f optionalField) text() models.OptionalText {
	if !f.set {
		return models.OptionalText{}
	}
	if f.value == nil {
		return models.Cleared()
	}
	value := normalized(*f.value)
	if value == "" {
		return models.Cleared()
	}
	return models.Text(value)
}

// optionalText normalizes an optional, non-clearable field; an empty value
// counts as absent.
func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := normalized(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
