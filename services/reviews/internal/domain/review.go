package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/syncreviews/platform/pkg/errors"
)

// Review target type constants.
const (
	TargetTypeCompany  = "company"
	TargetTypeEmployee = "employee"
)

// Moderation status constants.
const (
	ModerationPending  = "pending"
	ModerationApproved = "approved"
	ModerationRejected = "rejected"
)

// Review source constants.
const (
	SourceQR     = "qr"
	SourceManual = "manual"
	SourceImport = "import"
)

// Public listing limits.
const (
	DefaultPublicLimit = 10
	MinPublicLimit     = 1
	MaxPublicLimit     = 50
)

// AnonymousName is shown when a reviewer left no name.
const AnonymousName = "Anonymous"

// ErrReviewNotFound is returned when a review does not exist or belongs to another company.
var ErrReviewNotFound = fmt.Errorf("review: %w", apperrors.ErrNotFound)

// Review is a stored customer review. Only the fields copied by ToPublic ever
// leave the service through the public gateway.
type Review struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	TargetCompanyID  *string   `json:"target_company_id,omitempty"`
	EmployeeID       *string   `json:"employee_id,omitempty"`
	TargetType       string    `json:"review_target_type"`
	Rating           int       `json:"rating"`
	Comment          *string   `json:"comment,omitempty"`
	VideoURL         *string   `json:"video_url,omitempty"`
	CustomerName     *string   `json:"customer_name,omitempty"`
	CustomerEmail    *string   `json:"customer_email,omitempty"`
	ModerationStatus string    `json:"moderation_status"`
	FlaggedAsSpam    bool      `json:"flagged_as_spam"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsPubliclyVisible reports whether r may be shown on a company's widget.
func (r *Review) IsPubliclyVisible(companyID string) bool {
	if r.TargetType != TargetTypeCompany || r.ModerationStatus != ModerationApproved || r.FlaggedAsSpam {
		return false
	}
	if r.CompanyID == companyID {
		return true
	}
	return r.TargetCompanyID != nil && *r.TargetCompanyID == companyID
}

// PublicReview is the projection served to unauthenticated callers.
// Comment and VideoURL are always encoded, as null when absent.
type PublicReview struct {
	ID           string    `json:"id"`
	Rating       int       `json:"rating"`
	Comment      *string   `json:"comment"`
	VideoURL     *string   `json:"video_url"`
	CreatedAt    time.Time `json:"created_at"`
	CustomerName string    `json:"customer_name"`
}

// ToPublic copies the allow-listed fields of r into a PublicReview.
func ToPublic(r Review) PublicReview {
	name := AnonymousName
	if r.CustomerName != nil && strings.TrimSpace(*r.CustomerName) != "" {
		name = *r.CustomerName
	}

	return PublicReview{
		ID:           r.ID,
		Rating:       r.Rating,
		Comment:      nonEmpty(r.Comment),
		VideoURL:     nonEmpty(r.VideoURL),
		CreatedAt:    r.CreatedAt,
		CustomerName: name,
	}
}

// ToPublicList maps rows to their public projection. The result is never nil.
func ToPublicList(rows []Review) []PublicReview {
	out := make([]PublicReview, 0, len(rows))
	for _, r := range rows {
		out = append(out, ToPublic(r))
	}
	return out
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

// ClampLimit bounds n to [MinPublicLimit, MaxPublicLimit].
func ClampLimit(n int) int {
	return max(MinPublicLimit, min(n, MaxPublicLimit))
}

// ParseLimit parses the limit query value. Missing or non-numeric input yields
// DefaultPublicLimit; everything else is clamped without error.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultPublicLimit
	}
	return ClampLimit(n)
}

// ClampRating bounds a rating to the 0-5 display range.
func ClampRating(n int) int {
	return max(0, min(n, 5))
}

// ReviewSummary contains aggregate statistics of a company's approved reviews.
type ReviewSummary struct {
	AverageRating float64 `json:"average_rating"`
	TotalCount    int     `json:"total_count"`
}

// ModerationUpdate carries the fields an operator may change on a review.
// Nil fields are left untouched.
type ModerationUpdate struct {
	Status        *string
	FlaggedAsSpam *bool
}

// ValidModerationStatuses returns the set of valid moderation statuses.
func ValidModerationStatuses() []string {
	return []string{ModerationPending, ModerationApproved, ModerationRejected}
}

// IsValidModerationStatus checks whether s is a valid moderation status.
func IsValidModerationStatus(s string) bool {
	for _, v := range ValidModerationStatuses() {
		if v == s {
			return true
		}
	}
	return false
}
