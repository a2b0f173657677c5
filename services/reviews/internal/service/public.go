package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
)

// ErrCompanyRequired is returned when a public listing names no company.
var ErrCompanyRequired = apperrors.InvalidInput("company_id is required")

// PublicService serves the approved reviews shown on embedded widgets.
type PublicService struct {
	repo   repository.PublicReviewReader
	cache  *cache.Manager
	ttl    time.Duration
	logger *slog.Logger
}

// NewPublicService creates a public listing service. A nil cache or a
// non-positive ttl disables response caching.
func NewPublicService(repo repository.PublicReviewReader, c *cache.Manager, ttl time.Duration, logger *slog.Logger) *PublicService {
	return &PublicService{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// ListPublic returns at most limit public reviews of companyID, newest first.
// The limit is clamped to the public range.
func (s *PublicService) ListPublic(ctx context.Context, companyID string, limit int) ([]domain.PublicReview, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return nil, ErrCompanyRequired
	}
	limit = domain.ClampLimit(limit)

	key := cache.PublicReviewsKey(companyID, limit)
	if s.cacheEnabled() {
		var cached []domain.PublicReview
		if s.cache.GetJSON(ctx, key, &cached) && cached != nil {
			return cached, nil
		}
	}

	rows, err := s.repo.ListPublic(ctx, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch public reviews: %w", err)
	}

	reviews := domain.ToPublicList(rows)

	if s.cacheEnabled() {
		if err := s.cache.SetJSON(ctx, key, reviews, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "failed to cache public reviews",
				slog.String("company_id", companyID),
				slog.String("error", err.Error()),
			)
		}
	}

	return reviews, nil
}

func (s *PublicService) cacheEnabled() bool {
	return s.cache != nil && s.ttl > 0
}
