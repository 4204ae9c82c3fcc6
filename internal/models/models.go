package models

import "time"

// Category classifies articles and videos for the reader-facing filters.
type Category string

const (
	CategoryPolitics  Category = "Politics"
	CategoryCulture   Category = "Culture"
	CategoryEconomy   Category = "Economy"
	CategorySociety   Category = "Society"
	CategoryEducation Category = "Education"
	CategoryFaith     Category = "Faith"

	// CategoryGeneral is assigned to videos created without a category.
	CategoryGeneral Category = "General"
)

// ArticleCategories lists the categories an article may be filed under.
var ArticleCategories = []Category{
	CategoryPolitics,
	CategoryCulture,
	CategoryEconomy,
	CategorySociety,
	CategoryEducation,
	CategoryFaith,
}

// VideoCategories extends ArticleCategories with the default video category.
var VideoCategories = append(append([]Category{}, ArticleCategories...), CategoryGeneral)

// Strings returns the category names in declaration order.
func Strings(categories []Category) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, string(c))
	}
	return out
}

type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Author    string    `json:"author"`
	ImageURL  *string   `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

type Video struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	YoutubeURL          string    `json:"youtubeUrl"`
	ThumbnailURL        *string   `json:"thumbnailUrl"`
	ThumbnailStorageKey *string   `json:"thumbnailStorageKey"`
	Category            string    `json:"category"`
	CreatedAt           time.Time `json:"createdAt"`
}

// OptionalText is a clearable optional column. An unset value leaves the
// stored column untouched on update; a set value with a nil Value writes NULL.
type OptionalText struct {
	Set   bool
	Value *string
}

// Text returns a set OptionalText holding value.
func Text(value string) OptionalText {
	return OptionalText{Set: true, Value: &value}
}

// Cleared returns a set OptionalText that clears the column.
func Cleared() OptionalText {
	return OptionalText{Set: true}
}

// Column returns the value to store, nil when the column is cleared.
func (o OptionalText) Column() any {
	if o.Value == nil {
		return nil
	}
	return *o.Value
}

// ArticleInput carries the writable article fields.
type ArticleInput struct {
	Title    string
	Content  string
	Category string
	Author   string
	ImageURL OptionalText
}

// VideoInput carries the writable video fields. A nil Category keeps the
// stored one, or becomes General on create.
type VideoInput struct {
	Title               string
	YoutubeURL          string
	ThumbnailURL        OptionalText
	ThumbnailStorageKey OptionalText
	Category            *string
}

// Asset describes a stored upload.
type Asset struct {
	URL        string `json:"url"`
	Path       string `json:"path"`
	StorageKey string `json:"storageKey"`
}
