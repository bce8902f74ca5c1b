package news

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/coachgate/internal/apierror"
	"github.com/mbd888/coachgate/internal/logging"
	"github.com/mbd888/coachgate/internal/metrics"
)

// Service returns the feed, serving from cache while it is fresh.
type Service struct {
	searcher Searcher
	cache    Cache
	ttl      time.Duration
}

// NewService creates a feed service. A nil cache disables caching.
func NewService(searcher Searcher, cache Cache, ttl time.Duration) *Service {
	return &Service{searcher: searcher, cache: cache, ttl: ttl}
}

// Feed returns the items for category, or all items when category is empty.
func (s *Service) Feed(ctx context.Context, category string) ([]Item, error) {
	items, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return items, nil
	}
	filtered := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Category == category {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

func (s *Service) all(ctx context.Context) ([]Item, error) {
	const key = "feed"
	if s.cache != nil && s.ttl > 0 {
		items, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.NewsCacheTotal.WithLabelValues("error").Inc()
			logging.L(ctx).Warn("news cache read failed", "error", err)
		case ok:
			metrics.NewsCacheTotal.WithLabelValues("hit").Inc()
			return items, nil
		default:
			metrics.NewsCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	items, err := s.searcher.Search(ctx, DefaultQuery)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, key, items, s.ttl); err != nil {
			logging.L(ctx).Warn("news cache write failed", "error", err)
		}
	}
	return items, nil
}

// Handler provides the public news endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a news handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the news route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/news", h.List)
}

var validCategories = map[string]bool{
	CategoryLeadership:   true,
	CategoryCareer:       true,
	CategoryWellness:     true,
	CategoryProductivity: true,
	CategoryGeneral:      true,
}

// List handles GET /api/news[?category=...].
func (h *Handler) List(c *gin.Context) {
	category := strings.ToLower(strings.TrimSpace(c.Query("category")))
	if category != "" && !validCategories[category] {
		apierror.Respond(c, apierror.Invalid("category", "unknown news category"))
		return
	}

	items, err := h.service.Feed(c.Request.Context(), category)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}
