package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/syncreviews/platform/pkg/database"
	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
)

const reviewColumns = `id, company_id, target_company_id, employee_id, review_target_type, rating,
		       comment, video_url, customer_name, customer_email, moderation_status,
		       flagged_as_spam, source, created_at, updated_at`

// ReviewRepository implements review persistence operations using PostgreSQL.
type ReviewRepository struct {
	pool database.DBTX
}

var _ repository.ReviewRepository = (*ReviewRepository)(nil)

// NewReviewRepository creates a new PostgreSQL-backed review repository.
func NewReviewRepository(pool database.DBTX) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// ListPublic returns the approved, non-spam reviews a company's widget may show.
func (r *ReviewRepository) ListPublic(ctx context.Context, companyID string, limit int) (_ []domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE review_target_type = 'company'
		  AND (company_id = $1 OR target_company_id = $1)
		  AND moderation_status = 'approved'
		  AND flagged_as_spam = FALSE
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "ListPublic", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list public reviews: %w", err)
	}
	defer rows.Close()

	reviews := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, *rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public review rows: %w", err)
	}

	return reviews, nil
}

// Create inserts a new review into the database.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	ctx, end := database.TraceQuery(ctx, "Create", query)
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		review.ID,
		review.CompanyID,
		review.TargetCompanyID,
		review.EmployeeID,
		review.TargetType,
		review.Rating,
		review.Comment,
		review.VideoURL,
		review.CustomerName,
		review.CustomerEmail,
		review.ModerationStatus,
		review.FlaggedAsSpam,
		review.Source,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(fmt.Sprintf("review %s already exists", review.ID))
		}
		return fmt.Errorf("insert review: %w", err)
	}

	return nil
}

// GetByID retrieves a review by its ID.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (_ *domain.Review, err error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetByID", query)
	defer func() { end(err) }()

	rv, err := scanReview(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReviewNotFound
		}
		return nil, err
	}
	return rv, nil
}

// UpdateModeration persists the moderation status and spam flag of a review.
func (r *ReviewRepository) UpdateModeration(ctx context.Context, review *domain.Review) (err error) {
	query := `
		UPDATE reviews
		SET moderation_status = $2, flagged_as_spam = $3, updated_at = $4
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "UpdateModeration", query)
	defer func() { end(err) }()

	tag, err := r.pool.Exec(ctx, query,
		review.ID,
		review.ModerationStatus,
		review.FlaggedAsSpam,
		review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update review moderation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReviewNotFound
	}

	return nil
}

// ListByCompany returns a page of reviews owned by a company along with the total count.
func (r *ReviewRepository) ListByCompany(ctx context.Context, filter repository.ReviewFilter) (_ []domain.Review, _ int, err error) {
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	where := []string{"company_id = $1"}
	args := []any{filter.CompanyID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("moderation_status = $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s,
		       count(*) OVER() AS total_count
		FROM reviews
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		reviewColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	ctx, end := database.TraceQuery(ctx, "ListByCompany", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list company reviews: %w", err)
	}
	defer rows.Close()

	var (
		reviews    = []domain.Review{}
		totalCount int
	)

	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(append(reviewDest(&rv), &totalCount)...); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	return reviews, totalCount, nil
}

// GetSummary returns the average rating and count of a company's approved reviews.
func (r *ReviewRepository) GetSummary(ctx context.Context, companyID string) (_ *domain.ReviewSummary, err error) {
	query := `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(*)
		FROM reviews
		WHERE company_id = $1 AND moderation_status = 'approved' AND flagged_as_spam = FALSE`

	ctx, end := database.TraceQuery(ctx, "GetSummary", query)
	defer func() { end(err) }()

	var summary domain.ReviewSummary
	err = r.pool.QueryRow(ctx, query, companyID).Scan(
		&summary.AverageRating,
		&summary.TotalCount,
	)
	if err != nil {
		return nil, fmt.Errorf("get review summary: %w", err)
	}

	// Round average rating to one decimal place.
	summary.AverageRating = math.Round(summary.AverageRating*10) / 10

	return &summary, nil
}

func reviewDest(rv *domain.Review) []any {
	return []any{
		&rv.ID,
		&rv.CompanyID,
		&rv.TargetCompanyID,
		&rv.EmployeeID,
		&rv.TargetType,
		&rv.Rating,
		&rv.Comment,
		&rv.VideoURL,
		&rv.CustomerName,
		&rv.CustomerEmail,
		&rv.ModerationStatus,
		&rv.FlaggedAsSpam,
		&rv.Source,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	}
}

func scanReview(row pgx.Row) (*domain.Review, error) {
	var rv domain.Review
	if err := row.Scan(reviewDest(&rv)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review row: %w", err)
	}
	return &rv, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
