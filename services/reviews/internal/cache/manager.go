package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const publicReviewsPrefix = "public-reviews:"

var (
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_cache_requests_total",
			Help: "Cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviews_cache_invalidations_total",
			Help: "Company cache invalidations.",
		},
	)
)

// PublicReviewsKey is the cache key of one gateway response.
func PublicReviewsKey(companyID string, limit int) string {
	return CompanyPrefix(companyID) + strconv.Itoa(limit)
}

// CompanyPrefix is the key prefix shared by all cached pages of a company.
func CompanyPrefix(companyID string) string {
	return publicReviewsPrefix + companyID + ":"
}

// Manager is a JSON cache over a Store plus per-API quota tracking. One
// Manager is built per process and injected where it is needed.
type Manager struct {
	store  Store
	quota  *QuotaTracker
	logger *slog.Logger
}

// NewManager creates a manager over store.
func NewManager(store Store, quota *QuotaTracker, logger *slog.Logger) *Manager {
	if quota == nil {
		quota = NewQuotaTracker(DefaultQuotaConfig())
	}
	return &Manager{
		store:  store,
		quota:  quota,
		logger: logger,
	}
}

// Quota returns the manager's quota tracker.
func (m *Manager) Quota() *QuotaTracker {
	return m.quota
}

// GetJSON decodes the cached value for key into dst. A store or decode error
// is logged and reported as a miss.
func (m *Manager) GetJSON(ctx context.Context, key string, dst any) bool {
	data, ok, err := m.store.Get(ctx, key)
	if err != nil {
		cacheRequests.WithLabelValues("error").Inc()
		m.logger.WarnContext(ctx, "cache get failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		cacheRequests.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		cacheRequests.WithLabelValues("error").Inc()
		m.logger.WarnContext(ctx, "cache entry undecodable",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}

	cacheRequests.WithLabelValues("hit").Inc()
	return true
}

// SetJSON encodes v and stores it under key for ttl.
func (m *Manager) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// InvalidateCompany drops every cached public page of companyID.
func (m *Manager) InvalidateCompany(ctx context.Context, companyID string) error {
	if err := m.store.DeletePrefix(ctx, CompanyPrefix(companyID)); err != nil {
		return fmt.Errorf("invalidate company %s: %w", companyID, err)
	}
	cacheInvalidations.Inc()
	m.logger.DebugContext(ctx, "company cache invalidated", slog.String("company_id", companyID))
	return nil
}
