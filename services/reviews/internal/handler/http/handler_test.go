package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/syncreviews/platform/pkg/health"
	"github.com/syncreviews/platform/pkg/middleware"
	"github.com/syncreviews/platform/services/reviews/internal/auth"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/event"
	"github.com/syncreviews/platform/services/reviews/internal/repository/memory"
	"github.com/syncreviews/platform/services/reviews/internal/service"
)

const testSecret = "handler-test-secret-at-least-32-bytes"

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Fixtures
// =============================================================================

func fixtureReviews() []domain.Review {
	approved := func(id, company string, age time.Duration) domain.Review {
		return domain.Review{
			ID:               id,
			CompanyID:        company,
			TargetType:       domain.TargetTypeCompany,
			Rating:           5,
			ModerationStatus: domain.ModerationApproved,
			Source:           domain.SourceQR,
			CreatedAt:        baseTime.Add(-age),
			UpdatedAt:        baseTime.Add(-age),
		}
	}

	newest := approved("00000000-0000-0000-0000-000000000001", "acme", time.Hour)
	newest.CustomerName = strPtr("Ann <b>")
	newest.Comment = strPtr("Great service")

	anonymous := approved("00000000-0000-0000-0000-000000000002", "acme", 2*time.Hour)
	anonymous.Rating = 4

	pending := approved("00000000-0000-0000-0000-000000000003", "acme", 10*time.Minute)
	pending.ModerationStatus = domain.ModerationPending
	pending.CustomerName = strPtr("Pending Pete")

	spam := approved("00000000-0000-0000-0000-000000000004", "acme", 20*time.Minute)
	spam.FlaggedAsSpam = true

	employee := approved("00000000-0000-0000-0000-000000000005", "acme", 30*time.Minute)
	employee.TargetType = domain.TargetTypeEmployee
	employee.EmployeeID = strPtr("emp-1")

	viaTarget := approved("00000000-0000-0000-0000-000000000006", "parent-co", 3*time.Hour)
	viaTarget.TargetCompanyID = strPtr("acme")

	other := approved("00000000-0000-0000-0000-000000000007", "globex", time.Minute)

	// Same timestamp; ordering must fall back to id.
	tieA := approved("00000000-0000-0000-0000-0000000000a1", "tie", time.Hour)
	tieB := approved("00000000-0000-0000-0000-0000000000b2", "tie", time.Hour)

	reviews := []domain.Review{newest, anonymous, pending, spam, employee, viaTarget, other, tieA, tieB}
	for i := 0; i < 60; i++ {
		reviews = append(reviews, approved(fmt.Sprintf("bulk-%02d", i), "bulk", time.Duration(i)*time.Minute))
	}
	return reviews
}

type testEnv struct {
	router http.Handler
	repo   *memory.ReviewRepository
	cache  *cache.Manager
	jwt    *auth.JWTManager
}

type envOption func(*RouterConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := newTestLogger()
	repo := memory.NewReviewRepository(fixtureReviews()...)
	cm := cache.NewManager(cache.NewMemoryStore(), nil, logger)
	jwtManager := auth.NewJWTManager(testSecret, time.Hour)

	limiter := NewRateLimiter(100, 100, logger)
	t.Cleanup(limiter.Stop)

	cfg := RouterConfig{
		PublicService:     service.NewPublicService(repo, cm, 30*time.Second, logger),
		ReviewService:     service.NewReviewService(repo, event.NopPublisher{}, cm, logger),
		TokenValidator:    jwtManager.TokenValidator(),
		Health:            health.NewHandler(),
		Logger:            logger,
		OperatorCORS:      middleware.DefaultCORSConfig(),
		PublicBaseURL:     "https://app.syncreviews.io",
		PublicCacheTTL:    30 * time.Second,
		ExposeStoreErrors: true,
		SubmitLimiter:     limiter,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{router: NewRouter(cfg), repo: repo, cache: cm, jwt: jwtManager}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, company, role string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken("op-1", "op@example.com", role, company)
	require.NoError(t, err)
	return tok
}

type publicBody struct {
	Reviews []map[string]any `json:"reviews"`
}

func decodePublic(t *testing.T, rec *httptest.ResponseRecorder) publicBody {
	t.Helper()
	var body publicBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func assertEmbedCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	allowed := rec.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"authorization", "apikey", "content-type"} {
		assert.Contains(t, allowed, h)
	}
}

// =============================================================================
// Public review gateway
// =============================================================================

func TestPublicReviews_DefaultLimit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/public-reviews?company_id=bulk", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodePublic(t, rec).Reviews, 10)
	assertEmbedCORS(t, rec)
	assert.Equal(t, "public, max-age=30", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestPublicReviews_LimitClamp(t *testing.T) {
	tests := []struct {
		limit string
		want  int
	}{
		{"0", 1},
		{"-5", 1},
		{"999", 50},
		{"3", 3},
		{"abc", 10},
		{"", 10},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run("limit="+tt.limit, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/public-reviews?company_id=bulk&limit="+tt.limit, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Len(t, decodePublic(t, rec).Reviews, tt.want)
		})
	}
}

func TestPublicReviews_OnlyApprovedNonSpamNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	reviews := decodePublic(t, rec).Reviews
	ids := make([]string, 0, len(reviews))
	for _, r := range reviews {
		ids = append(ids, r["id"].(string))
	}
	assert.Equal(t, []string{
		"00000000-0000-0000-0000-000000000001",
		"00000000-0000-0000-0000-000000000002",
		"00000000-0000-0000-0000-000000000006",
	}, ids)

	for _, r := range reviews {
		assert.ElementsMatch(t,
			[]string{"id", "rating", "comment", "video_url", "created_at", "customer_name"},
			keys(r))
	}
}

func TestPublicReviews_AnonymousAndNullComment(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/public-reviews?company_id=acme&limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	raw := rec.Body.String()
	assert.Contains(t, raw, `"customer_name":"Anonymous"`)
	assert.Contains(t, raw, `"comment":null`)
	assert.Contains(t, raw, `"video_url":null`)
	assert.Contains(t, raw, `"customer_name":"Ann <b>"`)
}

func TestPublicReviews_EmptyCompany(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/public-reviews?company_id=nobody", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reviews":[]}`, rec.Body.String())
}

func TestPublicReviews_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := env.do(t, method, "/public-reviews?company_id=acme", nil, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"error":"Method %s not allowed. Use GET."}`, method), rec.Body.String())
		assertEmbedCORS(t, rec)
	}
}

func TestPublicReviews_Options(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodOptions, "/public-reviews", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assertEmbedCORS(t, rec)
}

func TestPublicReviews_MissingCompany(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/public-reviews", "/public-reviews?company_id=", "/public-reviews?company_id=%20%20"} {
		rec := env.do(t, http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"company_id is required"}`, rec.Body.String())
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assertEmbedCORS(t, rec)
	}
}

func TestPublicReviews_DeterministicBytes(t *testing.T) {
	env := newTestEnv(t, func(c *RouterConfig) {
		c.PublicService = service.NewPublicService(memory.NewReviewRepository(fixtureReviews()...), nil, 0, newTestLogger())
	})

	first := env.do(t, http.MethodGet, "/public-reviews?company_id=tie", nil, "")
	second := env.do(t, http.MethodGet, "/public-reviews?company_id=tie", nil, "")

	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())

	reviews := decodePublic(t, first).Reviews
	require.Len(t, reviews, 2)
	assert.Equal(t, "00000000-0000-0000-0000-0000000000b2", reviews[0]["id"])
}

// --- store failures ---

type mockPublicReader struct {
	mock.Mock
}

func (m *mockPublicReader) ListPublic(ctx context.Context, companyID string, limit int) ([]domain.Review, error) {
	args := m.Called(ctx, companyID, limit)
	if fn, ok := args.Get(0).(func()); ok {
		fn()
	}
	if rows, ok := args.Get(0).([]domain.Review); ok {
		return rows, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestPublicReviews_StoreError(t *testing.T) {
	tests := []struct {
		name   string
		expose bool
		want   string
	}{
		{name: "exposed", expose: true, want: "permission denied for table reviews"},
		{name: "redacted", expose: false, want: redactedStoreError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(mockPublicReader)
			reader.On("ListPublic", mock.Anything, "acme", 10).
				Return(nil, errors.New("permission denied for table reviews"))

			env := newTestEnv(t, func(c *RouterConfig) {
				c.PublicService = service.NewPublicService(reader, nil, 0, newTestLogger())
				c.ExposeStoreErrors = tt.expose
			})

			rec := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.want)
			if !tt.expose {
				assert.NotContains(t, rec.Body.String(), "permission denied")
			}
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assertEmbedCORS(t, rec)
			reader.AssertExpectations(t)
		})
	}
}

func TestPublicReviews_PanicRecovered(t *testing.T) {
	reader := new(mockPublicReader)
	reader.On("ListPublic", mock.Anything, "acme", 10).
		Return(func() { panic("nil map write") }, nil)

	env := newTestEnv(t, func(c *RouterConfig) {
		c.PublicService = service.NewPublicService(reader, nil, 0, newTestLogger())
	})

	rec := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Unexpected error","details":"nil map write"}`, rec.Body.String())
}

// =============================================================================
// Review submission
// =============================================================================

func TestSubmitReview(t *testing.T) {
	env := newTestEnv(t)

	body := `{"rating":5,"comment":"Lovely staff","customer_name":"Zed","video_url":"https://cdn.example.com/v.mp4"}`
	rec := env.do(t, http.MethodPost, "/api/v1/companies/acme/reviews/", strings.NewReader(body), "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ModerationPending, resp.Data["moderation_status"])

	stored, err := env.repo.GetByID(context.Background(), resp.Data["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "acme", stored.CompanyID)
	assert.Equal(t, domain.SourceQR, stored.Source)

	// Pending reviews never reach the public listing.
	pub := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")
	assert.NotContains(t, pub.Body.String(), "Lovely staff")
}

func TestSubmitReview_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "rating too high", body: `{"rating":6}`, field: "Rating"},
		{name: "rating missing", body: `{"comment":"hi"}`, field: "Rating"},
		{name: "script video url", body: `{"rating":4,"video_url":"javascript:alert(1)"}`, field: "VideoURL"},
		{name: "bad email", body: `{"rating":4,"customer_email":"nope"}`, field: "CustomerEmail"},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/companies/acme/reviews/", strings.NewReader(tt.body), "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
			assert.Contains(t, rec.Body.String(), tt.field)
		})
	}
}

func TestSubmitReview_RateLimited(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1, newTestLogger())
	t.Cleanup(limiter.Stop)
	env := newTestEnv(t, func(c *RouterConfig) { c.SubmitLimiter = limiter })

	first := env.do(t, http.MethodPost, "/api/v1/companies/acme/reviews/", strings.NewReader(`{"rating":3}`), "")
	second := env.do(t, http.MethodPost, "/api/v1/companies/acme/reviews/", strings.NewReader(`{"rating":3}`), "")

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, 1, limiter.len())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5123"
	assert.Equal(t, "10.0.0.9", clientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.7")
	assert.Equal(t, "192.0.2.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "bogus, 203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

// =============================================================================
// Operator endpoints
// =============================================================================

func TestAdmin_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/reviews", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/reviews", nil, env.token(t, "acme", "viewer"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/companies/globex/reviews", nil, env.token(t, "acme", auth.RoleOwner))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestAdmin_ListReviews(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/reviews?status=pending", nil, env.token(t, "acme", auth.RoleManager))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []domain.Review       `json:"data"`
		TotalCount int                   `json:"total_count"`
		Summary    *domain.ReviewSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.TotalCount)
	assert.Equal(t, "Pending Pete", *resp.Data[0].CustomerName)
	require.NotNil(t, resp.Summary)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/reviews?status=bogus", nil, env.token(t, "acme", auth.RoleManager))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_ModerateInvalidatesPublicCache(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acme", auth.RoleOwner)

	before := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")
	require.Len(t, decodePublic(t, before).Reviews, 3)

	rec := env.do(t, http.MethodPatch, "/api/v1/admin/reviews/00000000-0000-0000-0000-000000000003/moderation",
		strings.NewReader(`{"moderation_status":"approved"}`), token)
	require.Equal(t, http.StatusOK, rec.Code)

	after := env.do(t, http.MethodGet, "/public-reviews?company_id=acme", nil, "")
	reviews := decodePublic(t, after).Reviews
	require.Len(t, reviews, 4)
	assert.Equal(t, "Pending Pete", reviews[0]["customer_name"])
}

func TestAdmin_ModerateErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acme", auth.RoleOwner)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "other company", path: "00000000-0000-0000-0000-000000000007", body: `{"flagged_as_spam":true}`, status: http.StatusNotFound},
		{name: "bad status", path: "00000000-0000-0000-0000-000000000001", body: `{"moderation_status":"deleted"}`, status: http.StatusBadRequest},
		{name: "empty update", path: "00000000-0000-0000-0000-000000000001", body: `{}`, status: http.StatusBadRequest},
		{name: "bad id", path: "not-a-uuid", body: `{"flagged_as_spam":true}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPatch, "/api/v1/admin/reviews/"+tt.path+"/moderation", strings.NewReader(tt.body), token)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

// =============================================================================
// Widget endpoints
// =============================================================================

func TestWidgetScript(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/widget.js", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "syncreviews-widget-style")
}

func TestWidgetFrame(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/widget/frame?company=acme&theme=dark&limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := rec.Body.String()
	assert.Contains(t, out, `data-theme="dark"`)
	assert.Contains(t, out, "Ann &lt;b&gt;")
	assert.Contains(t, out, domain.AnonymousName)
	assert.NotContains(t, out, "<script")
	assert.Equal(t, 2, strings.Count(out, `class="sr-card"`))

	rec = env.do(t, http.MethodGet, "/widget/frame", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWidgetSnippetAndQR(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "acme", auth.RoleOwner)

	rec := env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/widget/snippet?theme=auto&limit=4", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data["snippet"], `src="https://app.syncreviews.io/widget.js"`)
	assert.Contains(t, resp.Data["snippet"], `data-limit="4"`)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/companies/acme/qr.png?size=5000", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
