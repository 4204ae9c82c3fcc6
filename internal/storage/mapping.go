package storage

import (
	"fmt"
	"strconv"
	"time"

	"contenthub/internal/models"
)

type fieldMapping struct {
	Public string
	Column string
}

// entityMapping is the bidirectional public <-> storage name table for one
// entity. Names missing from the table never reach the provider.
type entityMapping struct {
	table    string
	fields   []fieldMapping
	toColumn map[string]string
	toPublic map[string]string
}

func newEntityMapping(table string, fields ...fieldMapping) entityMapping {
	m := entityMapping{
		table:    table,
		fields:   fields,
		toColumn: make(map[string]string, len(fields)),
		toPublic: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		m.toColumn[f.Public] = f.Column
		m.toPublic[f.Column] = f.Public
	}
	return m
}

var articleMapping = newEntityMapping("articles",
	fieldMapping{Public: "id", Column: "id"},
	fieldMapping{Public: "title", Column: "title"},
	fieldMapping{Public: "content", Column: "content"},
	fieldMapping{Public: "category", Column: "category"},
	fieldMapping{Public: "author", Column: "author"},
	fieldMapping{Public: "imageUrl", Column: "image_url"},
	fieldMapping{Public: "createdAt", Column: "created_at"},
)

var videoMapping = newEntityMapping("videos",
	fieldMapping{Public: "id", Column: "id"},
	fieldMapping{Public: "title", Column: "title"},
	fieldMapping{Public: "youtubeUrl", Column: "youtube_url"},
	fieldMapping{Public: "thumbnailUrl", Column: "thumbnail_url"},
	fieldMapping{Public: "thumbnailStorageKey", Column: "thumbnail_public_id"},
	fieldMapping{Public: "category", Column: "category"},
	fieldMapping{Public: "createdAt", Column: "created_at"},
)

func (m entityMapping) column(public string) string {
	if column, ok := m.toColumn[public]; ok {
		return column
	}
	panic(fmt.Sprintf("storage: %s has no mapping for %q", m.table, public))
}

func (m entityMapping) toStorage(fields map[string]any) (Row, error) {
	row := make(Row, len(fields))
	for name, value := range fields {
		column, ok := m.toColumn[name]
		if !ok {
			return nil, fmt.Errorf("%s: unknown field %q", m.table, name)
		}
		row[column] = value
	}
	return row, nil
}

func (m entityMapping) toPublicFields(row Row) map[string]any {
	fields := make(map[string]any, len(row))
	for column, value := range row {
		if name, ok := m.toPublic[column]; ok {
			fields[name] = value
		}
	}
	return fields
}

func articleFields(in models.ArticleInput) map[string]any {
	fields := map[string]any{
		"title":    in.Title,
		"content":  in.Content,
		"category": in.Category,
		"author":   in.Author,
	}
	if in.ImageURL.Set {
		fields["imageUrl"] = in.ImageURL.Column()
	}
	return fields
}

func videoFields(in models.VideoInput, creating bool) map[string]any {
	fields := map[string]any{
		"title":      in.Title,
		"youtubeUrl": in.YoutubeURL,
	}
	if in.ThumbnailURL.Set {
		fields["thumbnailUrl"] = in.ThumbnailURL.Column()
	}
	if in.ThumbnailStorageKey.Set {
		fields["thumbnailStorageKey"] = in.ThumbnailStorageKey.Column()
	}
	switch {
	case in.Category != nil:
		fields["category"] = *in.Category
	case creating:
		fields["category"] = string(models.CategoryGeneral)
	}
	return fields
}

func decodeArticle(fields map[string]any) (models.Article, error) {
	createdAt, err := timeField(fields, "createdAt")
	if err != nil {
		return models.Article{}, err
	}
	return models.Article{
		ID:        textField(fields, "id"),
		Title:     textField(fields, "title"),
		Content:   textField(fields, "content"),
		Category:  textField(fields, "category"),
		Author:    textField(fields, "author"),
		ImageURL:  optionalTextField(fields, "imageUrl"),
		CreatedAt: createdAt,
	}, nil
}

func decodeVideo(fields map[string]any) (models.Video, error) {
	createdAt, err := timeField(fields, "createdAt")
	if err != nil {
		return models.Video{}, err
	}
	category := textField(fields, "category")
	if category == "" {
		category = string(models.CategoryGeneral)
	}
	return models.Video{
		ID:                  textField(fields, "id"),
		Title:               textField(fields, "title"),
		YoutubeURL:          textField(fields, "youtubeUrl"),
		ThumbnailURL:        optionalTextField(fields, "thumbnailUrl"),
		ThumbnailStorageKey: optionalTextField(fields, "thumbnailStorageKey"),
		Category:            category,
		CreatedAt:           createdAt,
	}, nil
}

func textField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", v[0:4], v[4:6], v[6:8], v[8:10], v[10:16])
	default:
		return fmt.Sprint(v)
	}
}

func optionalTextField(fields map[string]any, name string) *string {
	if _, ok := fields[name]; !ok || fields[name] == nil {
		return nil
	}
	value := textField(fields, name)
	return &value
}

func timeField(fields map[string]any, name string) (time.Time, error) {
	switch v := fields[name].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %s: %w", name, err)
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected %s type %T", name, v)
	}
}
