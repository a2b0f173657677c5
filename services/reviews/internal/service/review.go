package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/pkg/pagination"
	"github.com/syncreviews/platform/pkg/validator"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
)

const maxCommentLength = 4000

// EventPublisher publishes review domain events.
type EventPublisher interface {
	PublishReviewSubmitted(ctx context.Context, review *domain.Review) error
	PublishReviewModerated(ctx context.Context, review *domain.Review, previousStatus string) error
}

// Invalidator drops cached public pages of a company.
type Invalidator interface {
	InvalidateCompany(ctx context.Context, companyID string) error
}

// SubmitReviewInput holds the parameters of a collected review.
type SubmitReviewInput struct {
	CompanyID       string
	TargetCompanyID string
	EmployeeID      string
	Rating          int
	Comment         string
	VideoURL        string
	CustomerName    string
	CustomerEmail   string
	Source          string
}

// ReviewListResult contains one page of a company's reviews and its rating summary.
type ReviewListResult struct {
	pagination.Result[domain.Review]
	Summary *domain.ReviewSummary `json:"summary"`
}

// ReviewService implements review collection and moderation.
type ReviewService struct {
	repo        repository.ReviewRepository
	events      EventPublisher
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewReviewService creates a new review service. invalidator may be nil.
func NewReviewService(repo repository.ReviewRepository, events EventPublisher, invalidator Invalidator, logger *slog.Logger) *ReviewService {
	return &ReviewService{
		repo:        repo,
		events:      events,
		invalidator: invalidator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores a new review awaiting moderation.
func (s *ReviewService) Submit(ctx context.Context, input *SubmitReviewInput) (*domain.Review, error) {
	if strings.TrimSpace(input.CompanyID) == "" {
		return nil, apperrors.InvalidInput("company_id is required")
	}
	if input.Rating < 1 || input.Rating > 5 {
		return nil, apperrors.InvalidInput("rating must be between 1 and 5")
	}
	if len(input.Comment) > maxCommentLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("comment must be at most %d characters", maxCommentLength))
	}
	if input.VideoURL != "" && !validator.IsHTTPURL(input.VideoURL) {
		return nil, apperrors.InvalidInput("video_url must be an http or https URL")
	}

	source := input.Source
	if source == "" {
		source = domain.SourceQR
	}

	now := s.now()
	review := &domain.Review{
		ID:               uuid.New().String(),
		CompanyID:        input.CompanyID,
		TargetCompanyID:  optional(input.TargetCompanyID),
		EmployeeID:       optional(input.EmployeeID),
		TargetType:       domain.TargetTypeCompany,
		Rating:           input.Rating,
		Comment:          optional(input.Comment),
		VideoURL:         optional(input.VideoURL),
		CustomerName:     optional(input.CustomerName),
		CustomerEmail:    optional(input.CustomerEmail),
		ModerationStatus: domain.ModerationPending,
		Source:           source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if review.EmployeeID != nil {
		review.TargetType = domain.TargetTypeEmployee
	}

	if err := s.repo.Create(ctx, review); err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	if err := s.events.PublishReviewSubmitted(ctx, review); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.submitted event",
			slog.String("review_id", review.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the submission if event publishing fails.
	}

	s.logger.InfoContext(ctx, "review submitted",
		slog.String("review_id", review.ID),
		slog.String("company_id", review.CompanyID),
		slog.Int("rating", review.Rating),
	)

	return review, nil
}

// Moderate applies update to a review owned by companyID.
func (s *ReviewService) Moderate(ctx context.Context, companyID, reviewID string, update domain.ModerationUpdate) (*domain.Review, error) {
	if update.Status == nil && update.FlaggedAsSpam == nil {
		return nil, apperrors.InvalidInput("moderation_status or flagged_as_spam is required")
	}
	if update.Status != nil && !domain.IsValidModerationStatus(*update.Status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid moderation status %q, must be one of: %s",
			*update.Status, strings.Join(domain.ValidModerationStatuses(), ", ")))
	}

	review, err := s.repo.GetByID(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if review.CompanyID != companyID {
		// Reviews of other companies are indistinguishable from missing ones.
		return nil, domain.ErrReviewNotFound
	}

	previous := review.ModerationStatus
	if update.Status != nil {
		review.ModerationStatus = *update.Status
	}
	if update.FlaggedAsSpam != nil {
		review.FlaggedAsSpam = *update.FlaggedAsSpam
	}
	review.UpdatedAt = s.now()

	if err := s.repo.UpdateModeration(ctx, review); err != nil {
		return nil, fmt.Errorf("update review moderation: %w", err)
	}

	s.invalidate(ctx, review)

	if err := s.events.PublishReviewModerated(ctx, review, previous); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review.moderated event",
			slog.String("review_id", review.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "review moderated",
		slog.String("review_id", review.ID),
		slog.String("company_id", review.CompanyID),
		slog.String("previous_status", previous),
		slog.String("moderation_status", review.ModerationStatus),
		slog.Bool("flagged_as_spam", review.FlaggedAsSpam),
	)

	return review, nil
}

// ListForCompany returns a page of companyID's reviews with an approved-rating summary.
func (s *ReviewService) ListForCompany(ctx context.Context, companyID string, status *string, params pagination.Params) (*ReviewListResult, error) {
	if status != nil && !domain.IsValidModerationStatus(*status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid moderation status %q", *status))
	}

	reviews, total, err := s.repo.ListByCompany(ctx, repository.ReviewFilter{
		CompanyID: companyID,
		Status:    status,
		Page:      params.Page,
		PerPage:   params.PerPage,
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	summary, err := s.repo.GetSummary(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("get review summary: %w", err)
	}

	return &ReviewListResult{
		Result:  pagination.NewResult(reviews, total, params),
		Summary: summary,
	}, nil
}

func (s *ReviewService) invalidate(ctx context.Context, review *domain.Review) {
	if s.invalidator == nil {
		return
	}
	companies := []string{review.CompanyID}
	if review.TargetCompanyID != nil && *review.TargetCompanyID != review.CompanyID {
		companies = append(companies, *review.TargetCompanyID)
	}
	for _, id := range companies {
		if err := s.invalidator.InvalidateCompany(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate public review cache",
				slog.String("company_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
