// Package news serves a categorized feed of coaching-related articles
// from a NewsAPI-compatible search endpoint.
package news

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Categories, in matching priority order.
const (
	CategoryLeadership   = "leadership"
	CategoryCareer       = "career"
	CategoryWellness     = "wellness"
	CategoryProductivity = "productivity"
	CategoryGeneral      = "general"
)

// removedMarker is what NewsAPI puts in place of withdrawn articles.
const removedMarker = "[Removed]"

// Item is one normalized article.
type Item struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category"`
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryLeadership, []string{"leader", "leadership", "executive", "ceo", "management", "manager"}},
	{CategoryCareer, []string{"career", "job", "hiring", "promotion", "resume", "interview", "salary"}},
	{CategoryWellness, []string{"wellness", "wellbeing", "well-being", "burnout", "stress", "mental health", "mindfulness"}},
	{CategoryProductivity, []string{"productivity", "productive", "focus", "habit", "time management", "remote work"}},
}

// Categorize assigns the first category whose keywords appear in the text.
func Categorize(title, description string) string {
	text := strings.ToLower(title + " " + description)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// Normalize converts a NewsAPI search response into items. Removed articles
// and articles without a title or URL are dropped.
func Normalize(body []byte) []Item {
	articles := gjson.GetBytes(body, "articles")
	items := make([]Item, 0, len(articles.Array()))
	articles.ForEach(func(_, a gjson.Result) bool {
		title := strings.TrimSpace(a.Get("title").String())
		url := strings.TrimSpace(a.Get("url").String())
		if title == "" || url == "" || title == removedMarker {
			return true
		}
		desc := strings.TrimSpace(a.Get("description").String())
		if desc == removedMarker {
			desc = ""
		}
		item := Item{
			Title:       title,
			Description: desc,
			URL:         url,
			ImageURL:    a.Get("urlToImage").String(),
			Source:      a.Get("source.name").String(),
			Category:    Categorize(title, desc),
		}
		if ts, err := time.Parse(time.RFC3339, a.Get("publishedAt").String()); err == nil {
			item.PublishedAt = ts.UTC()
		}
		items = append(items, item)
		return true
	})
	return items
}
