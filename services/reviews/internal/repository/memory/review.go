package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
)

// ReviewRepository keeps reviews in process memory. It backs local
// development without Postgres and seeded fixtures in tests.
type ReviewRepository struct {
	mu      sync.RWMutex
	reviews map[string]domain.Review
}

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository creates a repository holding seed.
func NewReviewRepository(seed ...domain.Review) *ReviewRepository {
	r := &ReviewRepository{reviews: make(map[string]domain.Review, len(seed))}
	for _, rv := range seed {
		r.reviews[rv.ID] = rv
	}
	return r
}

// ListPublic applies the public visibility predicate and ordering of the
// Postgres implementation.
func (r *ReviewRepository) ListPublic(_ context.Context, companyID string, limit int) ([]domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Review{}
	for _, rv := range r.reviews {
		if rv.IsPubliclyVisible(companyID) {
			out = append(out, rv)
		}
	}
	sortNewestFirst(out)

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Create inserts review.
func (r *ReviewRepository) Create(_ context.Context, review *domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reviews[review.ID]; ok {
		return apperrors.Conflict("review " + review.ID + " already exists")
	}
	r.reviews[review.ID] = *review
	return nil
}

// GetByID returns a copy of the review with id.
func (r *ReviewRepository) GetByID(_ context.Context, id string) (*domain.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rv, ok := r.reviews[id]
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &rv, nil
}

// UpdateModeration stores the moderation fields of review.
func (r *ReviewRepository) UpdateModeration(_ context.Context, review *domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rv, ok := r.reviews[review.ID]
	if !ok {
		return domain.ErrReviewNotFound
	}
	rv.ModerationStatus = review.ModerationStatus
	rv.FlaggedAsSpam = review.FlaggedAsSpam
	rv.UpdatedAt = review.UpdatedAt
	r.reviews[review.ID] = rv
	return nil
}

// ListByCompany returns a page of a company's reviews with the total count.
func (r *ReviewRepository) ListByCompany(_ context.Context, filter repository.ReviewFilter) ([]domain.Review, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []domain.Review{}
	for _, rv := range r.reviews {
		if rv.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != nil && rv.ModerationStatus != *filter.Status {
			continue
		}
		matched = append(matched, rv)
	}
	sortNewestFirst(matched)

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * perPage
	}
	if offset >= len(matched) {
		return []domain.Review{}, len(matched), nil
	}
	end := min(offset+perPage, len(matched))
	return matched[offset:end], len(matched), nil
}

// GetSummary returns rating statistics over a company's approved, non-spam reviews.
func (r *ReviewRepository) GetSummary(_ context.Context, companyID string) (*domain.ReviewSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum, count int
	for _, rv := range r.reviews {
		if rv.CompanyID == companyID && rv.ModerationStatus == domain.ModerationApproved && !rv.FlaggedAsSpam {
			sum += rv.Rating
			count++
		}
	}

	summary := &domain.ReviewSummary{TotalCount: count}
	if count > 0 {
		summary.AverageRating = math.Round(float64(sum)/float64(count)*10) / 10
	}
	return summary, nil
}

func sortNewestFirst(reviews []domain.Review) {
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
		}
		return reviews[i].ID > reviews[j].ID
	})
}
