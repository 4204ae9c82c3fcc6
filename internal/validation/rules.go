package validation

import "contenthub/internal/models"

var ArticleRules = RuleSet{
	{Field: "title", Label: "Title", Checks: []Check{Length(1, 200)}},
	{Field: "content", Label: "Content", Checks: []Check{Length(1, 50000)}},
	{Field: "category", Label: "Category", Checks: []Check{OneOf(models.Strings(models.ArticleCategories)...)}},
	{Field: "author", Label: "Author", Checks: []Check{Length(1, 100)}},
	{Field: "imageUrl", Label: "Image URL", Optional: true, Checks: []Check{URL()}},
}

var VideoRules = RuleSet{
	{Field: "title", Label: "Title", Checks: []Check{Length(1, 200)}},
	{Field: "youtubeUrl", Label: "YouTube URL", Checks: []Check{YouTubeURL()}},
	{Field: "category", Label: "Category", Optional: true, Checks: []Check{OneOf(models.Strings(models.VideoCategories)...)}},
	{Field: "thumbnailUrl", Label: "Thumbnail URL", Optional: true, Checks: []Check{URL()}},
}
