package repository

import (
	"context"

	"github.com/syncreviews/platform/services/reviews/internal/domain"
)

// ReviewFilter defines filter criteria for the operator moderation queue.
type ReviewFilter struct {
	CompanyID string
	Status    *string
	Page      int
	PerPage   int
}

// PublicReviewReader is the read path behind the public gateway.
type PublicReviewReader interface {
	// ListPublic returns at most limit approved, non-spam company reviews owned
	// by or targeted at companyID, newest first with ties broken by id.
	ListPublic(ctx context.Context, companyID string, limit int) ([]domain.Review, error)
}

// ReviewRepository defines the interface for review persistence operations.
type ReviewRepository interface {
	PublicReviewReader

	// Create inserts a new review into the store.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a review by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// UpdateModeration persists the moderation fields of review.
	UpdateModeration(ctx context.Context, review *domain.Review) error

	// ListByCompany returns a page of a company's reviews with the total count.
	ListByCompany(ctx context.Context, filter ReviewFilter) ([]domain.Review, int, error)

	// GetSummary returns rating statistics over a company's approved reviews.
	GetSummary(ctx context.Context, companyID string) (*domain.ReviewSummary, error)
}
