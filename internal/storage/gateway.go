package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"contenthub/internal/models"
)

// Gateway translates validated content operations into provider calls.
// Provider failures are wrapped in *StorageError and never retried.
type Gateway struct {
	provider Provider
	objects  ObjectStore
	logger   *slog.Logger
}

type GatewayOption func(*Gateway)

func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGateway(provider Provider, objects ObjectStore, opts ...GatewayOption) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("storage provider is required")
	}
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	g := &Gateway{provider: provider, objects: objects, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gateway) ListArticles(ctx context.Context) ([]models.Article, error) {
	return list(ctx, g.provider, articleMapping, decodeArticle)
}

func (g *Gateway) CreateArticle(ctx context.Context, in models.ArticleInput) (models.Article, error) {
	article, err := create(ctx, g.provider, articleMapping, articleFields(in), decodeArticle)
	if err == nil {
		g.logger.Info("article created", "article_id", article.ID)
	}
	return article, err
}

// UpdateArticle returns nil without error when id does not exist.
func (g *Gateway) UpdateArticle(ctx context.Context, id string, in models.ArticleInput) (*models.Article, error) {
	article, err := update(ctx, g.provider, articleMapping, id, articleFields(in), decodeArticle)
	if err == nil {
		g.logger.Info("article updated", "article_id", id, "matched", article != nil)
	}
	return article, err
}

func (g *Gateway) DeleteArticle(ctx context.Context, id string) error {
	if err := remove(ctx, g.provider, articleMapping, id); err != nil {
		return err
	}
	g.logger.Info("article deleted", "article_id", id)
	return nil
}

func (g *Gateway) ListVideos(ctx context.Context) ([]models.Video, error) {
	return list(ctx, g.provider, videoMapping, decodeVideo)
}

// CreateVideo stores in, defaulting the category to General.
func (g *Gateway) CreateVideo(ctx context.Context, in models.VideoInput) (models.Video, error) {
	video, err := create(ctx, g.provider, videoMapping, videoFields(in, true), decodeVideo)
	if err == nil {
		g.logger.Info("video created", "video_id", video.ID)
	}
	return video, err
}

func (g *Gateway) UpdateVideo(ctx context.Context, id string, in models.VideoInput) (*models.Video, error) {
	video, err := update(ctx, g.provider, videoMapping, id, videoFields(in, false), decodeVideo)
	if err == nil {
		g.logger.Info("video updated", "video_id", id, "matched", video != nil)
	}
	return video, err
}

func (g *Gateway) DeleteVideo(ctx context.Context, id string) error {
	if err := remove(ctx, g.provider, videoMapping, id); err != nil {
		return err
	}
	g.logger.Info("video deleted", "video_id", id)
	return nil
}

// UploadAsset stores body under fileName and resolves its public URL. The
// asset is not linked to any record; a later failed create leaves it behind.
func (g *Gateway) UploadAsset(ctx context.Context, bucket Bucket, fileName string, body []byte, contentType string) (models.Asset, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return models.Asset{}, errors.New("upload asset: file name is required")
	}
	if err := g.objects.Upload(ctx, bucket, fileName, body, contentType); err != nil {
		return models.Asset{}, wrapProviderError("upload asset", err)
	}
	url := g.objects.PublicURL(bucket, fileName)
	g.logger.Info("asset uploaded", "bucket", string(bucket), "key", fileName, "size_bytes", len(body))
	return models.Asset{URL: url, Path: fileName, StorageKey: fileName}, nil
}

// Ping checks the relational provider.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.provider.Ping(ctx)
}

// PingObjects checks the object store.
func (g *Gateway) PingObjects(ctx context.Context) error {
	return g.objects.Ping(ctx)
}

func list[T any](ctx context.Context, p Provider, m entityMapping, decode func(map[string]any) (T, error)) ([]T, error) {
	rows, err := p.SelectOrdered(ctx, m.table, m.column("createdAt"), true)
	if err != nil {
		return nil, wrapProviderError("list "+m.table, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		record, err := decode(m.toPublicFields(row))
		if err != nil {
			return nil, fmt.Errorf("decode %s row: %w", m.table, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func create[T any](ctx context.Context, p Provider, m entityMapping, fields map[string]any, decode func(map[string]any) (T, error)) (T, error) {
	var zero T
	values, err := m.toStorage(fields)
	if err != nil {
		return zero, err
	}
	row, err := p.Insert(ctx, m.table, values)
	if err != nil {
		return zero, wrapProviderError("insert into "+m.table, err)
	}
	record, err := decode(m.toPublicFields(row))
	if err != nil {
		return zero, fmt.Errorf("decode %s row: %w", m.table, err)
	}
	return record, nil
}

func update[T any](ctx context.Context, p Provider, m entityMapping, id string, fields map[string]any, decode func(map[string]any) (T, error)) (*T, error) {
	values, err := m.toStorage(fields)
	if err != nil {
		return nil, err
	}
	row, found, err := p.UpdateByID(ctx, m.table, id, values)
	if err != nil {
		return nil, wrapProviderError("update "+m.table, err)
	}
	if !found {
		return nil, nil
	}
	record, err := decode(m.toPublicFields(row))
	if err != nil {
		return nil, fmt.Errorf("decode %s row: %w", m.table, err)
	}
	return &record, nil
}

func remove(ctx context.Context, p Provider, m entityMapping, id string) error {
	if err := p.DeleteByID(ctx, m.table, id); err != nil {
		return wrapProviderError("delete from "+m.table, err)
	}
	return nil
}
