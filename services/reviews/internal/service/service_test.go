package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/pkg/pagination"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
	"github.com/syncreviews/platform/services/reviews/internal/repository/memory"
)

// --- Mocks ---

type mockReviewRepository struct {
	mock.Mock
}

func (m *mockReviewRepository) ListPublic(ctx context.Context, companyID string, limit int) ([]domain.Review, error) {
	args := m.Called(ctx, companyID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Review), args.Error(1)
}

func (m *mockReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Review), args.Error(1)
}

func (m *mockReviewRepository) UpdateModeration(ctx context.Context, review *domain.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *mockReviewRepository) ListByCompany(ctx context.Context, filter repository.ReviewFilter) ([]domain.Review, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Review), args.Int(1), args.Error(2)
}

func (m *mockReviewRepository) GetSummary(ctx context.Context, companyID string) (*domain.ReviewSummary, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReviewSummary), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishReviewSubmitted(ctx context.Context, review *domain.Review) error {
	return m.Called(ctx, review).Error(0)
}

func (m *mockPublisher) PublishReviewModerated(ctx context.Context, review *domain.Review, previous string) error {
	return m.Called(ctx, review, previous).Error(0)
}

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) InvalidateCompany(ctx context.Context, companyID string) error {
	return m.Called(ctx, companyID).Error(0)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

var seedTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seeded(id string, rating int, status string, offset time.Duration) domain.Review {
	return domain.Review{
		ID:               id,
		CompanyID:        "acme",
		TargetType:       domain.TargetTypeCompany,
		Rating:           rating,
		ModerationStatus: status,
		CreatedAt:        seedTime.Add(offset),
	}
}

// --- PublicService ---

func TestPublicService_HappyPathNewestFirst(t *testing.T) {
	repo := memory.NewReviewRepository(
		seeded("r5", 5, domain.ModerationApproved, time.Hour),
		seeded("r4", 4, domain.ModerationApproved, 2*time.Hour),
		seeded("r3", 3, domain.ModerationApproved, 3*time.Hour),
		seeded("rp", 1, domain.ModerationPending, 4*time.Hour),
	)
	svc := NewPublicService(repo, nil, 0, newTestLogger())

	got, err := svc.ListPublic(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 4, 5}, []int{got[0].Rating, got[1].Rating, got[2].Rating})
	assert.Equal(t, "Anonymous", got[0].CustomerName)
}

func TestPublicService_ClampsLimit(t *testing.T) {
	tests := []struct {
		requested int
		effective int
	}{
		{0, 1},
		{-5, 1},
		{999, 50},
		{10, 10},
	}

	for _, tt := range tests {
		repo := new(mockReviewRepository)
		repo.On("ListPublic", mock.Anything, "acme", tt.effective).Return([]domain.Review{}, nil)

		svc := NewPublicService(repo, nil, 0, newTestLogger())
		_, err := svc.ListPublic(context.Background(), "acme", tt.requested)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	}
}

func TestPublicService_RequiresCompany(t *testing.T) {
	svc := NewPublicService(new(mockReviewRepository), nil, 0, newTestLogger())

	_, err := svc.ListPublic(context.Background(), "  ", 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorIs(t, err, ErrCompanyRequired)
}

func TestPublicService_StoreErrorKeepsMessage(t *testing.T) {
	repo := new(mockReviewRepository)
	repo.On("ListPublic", mock.Anything, "acme", 10).Return(nil, errors.New("connection reset by peer"))

	svc := NewPublicService(repo, nil, 0, newTestLogger())
	_, err := svc.ListPublic(context.Background(), "acme", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestPublicService_CachesAndInvalidates(t *testing.T) {
	repo := new(mockReviewRepository)
	repo.On("ListPublic", mock.Anything, "acme", 5).
		Return([]domain.Review{seeded("r1", 5, domain.ModerationApproved, 0)}, nil).
		Twice()

	mgr := cache.NewManager(cache.NewMemoryStore(), nil, newTestLogger())
	svc := NewPublicService(repo, mgr, time.Minute, newTestLogger())
	ctx := context.Background()

	first, err := svc.ListPublic(ctx, "acme", 5)
	require.NoError(t, err)
	second, err := svc.ListPublic(ctx, "acme", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	repo.AssertNumberOfCalls(t, "ListPublic", 1)

	require.NoError(t, mgr.InvalidateCompany(ctx, "acme"))
	_, err = svc.ListPublic(ctx, "acme", 5)
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "ListPublic", 2)
}

func TestPublicService_CachedEmptyListStaysEmpty(t *testing.T) {
	repo := new(mockReviewRepository)
	repo.On("ListPublic", mock.Anything, "ghost", 10).Return([]domain.Review{}, nil).Once()

	mgr := cache.NewManager(cache.NewMemoryStore(), nil, newTestLogger())
	svc := NewPublicService(repo, mgr, time.Minute, newTestLogger())

	for i := 0; i < 2; i++ {
		got, err := svc.ListPublic(context.Background(), "ghost", 10)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	repo.AssertExpectations(t)
}

// --- ReviewService.Submit ---

func newReviewService(repo repository.ReviewRepository, pub EventPublisher, inv Invalidator) *ReviewService {
	svc := NewReviewService(repo, pub, inv, newTestLogger())
	svc.now = func() time.Time { return seedTime }
	return svc
}

func TestSubmit_StoresPending(t *testing.T) {
	repo := new(mockReviewRepository)
	pub := new(mockPublisher)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Review")).Return(nil)
	pub.On("PublishReviewSubmitted", mock.Anything, mock.AnythingOfType("*domain.Review")).Return(nil)

	svc := newReviewService(repo, pub, nil)
	rv, err := svc.Submit(context.Background(), &SubmitReviewInput{
		CompanyID:    "acme",
		Rating:       5,
		Comment:      "  Great visit  ",
		CustomerName: "",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rv.ID)
	assert.Equal(t, domain.ModerationPending, rv.ModerationStatus)
	assert.Equal(t, domain.TargetTypeCompany, rv.TargetType)
	assert.Equal(t, domain.SourceQR, rv.Source)
	assert.Equal(t, "Great visit", *rv.Comment)
	assert.Nil(t, rv.CustomerName)
	assert.Equal(t, seedTime, rv.CreatedAt)
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSubmit_EmployeeTarget(t *testing.T) {
	repo := new(mockReviewRepository)
	pub := new(mockPublisher)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishReviewSubmitted", mock.Anything, mock.Anything).Return(nil)

	rv, err := newReviewService(repo, pub, nil).Submit(context.Background(), &SubmitReviewInput{
		CompanyID: "acme", EmployeeID: "emp-1", Rating: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TargetTypeEmployee, rv.TargetType)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input SubmitReviewInput
		msg   string
	}{
		{"no company", SubmitReviewInput{Rating: 5}, "company_id is required"},
		{"rating low", SubmitReviewInput{CompanyID: "acme", Rating: 0}, "rating must be between 1 and 5"},
		{"rating high", SubmitReviewInput{CompanyID: "acme", Rating: 6}, "rating must be between 1 and 5"},
		{"script video", SubmitReviewInput{CompanyID: "acme", Rating: 5, VideoURL: "javascript:alert(1)"}, "video_url"},
		{"long comment", SubmitReviewInput{CompanyID: "acme", Rating: 5, Comment: string(make([]byte, maxCommentLength+1))}, "comment must be at most"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newReviewService(new(mockReviewRepository), new(mockPublisher), nil)
			_, err := svc.Submit(context.Background(), &tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSubmit_PublishFailureDoesNotFail(t *testing.T) {
	repo := new(mockReviewRepository)
	pub := new(mockPublisher)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishReviewSubmitted", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := newReviewService(repo, pub, nil).Submit(context.Background(), &SubmitReviewInput{CompanyID: "acme", Rating: 3})
	assert.NoError(t, err)
}

func TestSubmit_RepoError(t *testing.T) {
	repo := new(mockReviewRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	_, err := newReviewService(repo, new(mockPublisher), nil).Submit(context.Background(), &SubmitReviewInput{CompanyID: "acme", Rating: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create review")
}

// --- ReviewService.Moderate ---

func TestModerate_ApprovesAndInvalidates(t *testing.T) {
	target := "partner"
	existing := seeded("rev-1", 4, domain.ModerationPending, 0)
	existing.TargetCompanyID = &target

	repo := new(mockReviewRepository)
	pub := new(mockPublisher)
	inv := new(mockInvalidator)
	repo.On("GetByID", mock.Anything, "rev-1").Return(&existing, nil)
	repo.On("UpdateModeration", mock.Anything, mock.MatchedBy(func(r *domain.Review) bool {
		return r.ModerationStatus == domain.ModerationApproved && r.UpdatedAt.Equal(seedTime)
	})).Return(nil)
	inv.On("InvalidateCompany", mock.Anything, "acme").Return(nil)
	inv.On("InvalidateCompany", mock.Anything, "partner").Return(errors.New("redis down"))
	pub.On("PublishReviewModerated", mock.Anything, mock.Anything, domain.ModerationPending).Return(nil)

	rv, err := newReviewService(repo, pub, inv).Moderate(context.Background(), "acme", "rev-1", domain.ModerationUpdate{
		Status: strPtr(domain.ModerationApproved),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationApproved, rv.ModerationStatus)
	repo.AssertExpectations(t)
	inv.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestModerate_FlagSpamOnly(t *testing.T) {
	existing := seeded("rev-1", 4, domain.ModerationApproved, 0)
	repo := new(mockReviewRepository)
	pub := new(mockPublisher)
	repo.On("GetByID", mock.Anything, "rev-1").Return(&existing, nil)
	repo.On("UpdateModeration", mock.Anything, mock.Anything).Return(nil)
	pub.On("PublishReviewModerated", mock.Anything, mock.Anything, domain.ModerationApproved).Return(nil)

	rv, err := newReviewService(repo, pub, nil).Moderate(context.Background(), "acme", "rev-1", domain.ModerationUpdate{
		FlaggedAsSpam: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, rv.FlaggedAsSpam)
	assert.Equal(t, domain.ModerationApproved, rv.ModerationStatus)
}

func TestModerate_OtherCompanyIsNotFound(t *testing.T) {
	existing := seeded("rev-1", 4, domain.ModerationPending, 0)
	repo := new(mockReviewRepository)
	repo.On("GetByID", mock.Anything, "rev-1").Return(&existing, nil)

	_, err := newReviewService(repo, new(mockPublisher), nil).Moderate(context.Background(), "globex", "rev-1", domain.ModerationUpdate{
		Status: strPtr(domain.ModerationApproved),
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	repo.AssertNotCalled(t, "UpdateModeration", mock.Anything, mock.Anything)
}

func TestModerate_Validation(t *testing.T) {
	svc := newReviewService(new(mockReviewRepository), new(mockPublisher), nil)

	_, err := svc.Moderate(context.Background(), "acme", "rev-1", domain.ModerationUpdate{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.Moderate(context.Background(), "acme", "rev-1", domain.ModerationUpdate{Status: strPtr("published")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestModerate_NotFound(t *testing.T) {
	repo := new(mockReviewRepository)
	repo.On("GetByID", mock.Anything, "nope").Return(nil, domain.ErrReviewNotFound)

	_, err := newReviewService(repo, new(mockPublisher), nil).Moderate(context.Background(), "acme", "nope", domain.ModerationUpdate{
		FlaggedAsSpam: boolPtr(true),
	})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
}

// --- ReviewService.ListForCompany ---

func TestListForCompany(t *testing.T) {
	repo := new(mockReviewRepository)
	status := domain.ModerationPending
	params := pagination.Params{Page: 1, PerPage: 2}

	repo.On("ListByCompany", mock.Anything, repository.ReviewFilter{
		CompanyID: "acme", Status: &status, Page: 1, PerPage: 2,
	}).Return([]domain.Review{seeded("a", 3, status, 0), seeded("b", 2, status, 0)}, 5, nil)
	repo.On("GetSummary", mock.Anything, "acme").Return(&domain.ReviewSummary{AverageRating: 4.5, TotalCount: 8}, nil)

	res, err := newReviewService(repo, new(mockPublisher), nil).ListForCompany(context.Background(), "acme", &status, params)
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)
	assert.Equal(t, 5, res.TotalCount)
	assert.Equal(t, 3, res.TotalPages)
	assert.True(t, res.HasNext)
	assert.Equal(t, 4.5, res.Summary.AverageRating)
}

func TestListForCompany_InvalidStatus(t *testing.T) {
	_, err := newReviewService(new(mockReviewRepository), new(mockPublisher), nil).
		ListForCompany(context.Background(), "acme", strPtr("bogus"), pagination.DefaultParams())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
