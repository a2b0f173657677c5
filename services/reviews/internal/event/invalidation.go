package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/syncreviews/platform/pkg/kafka"
)

// Invalidator drops cached public pages of a company.
type Invalidator interface {
	InvalidateCompany(ctx context.Context, companyID string) error
}

// InvalidationHandler returns a handler for review.moderated events that
// drops the cached public pages of every company the review is shown for.
// Events already recorded in seen, including this replica's own, are skipped.
func InvalidationHandler(inv Invalidator, seen pkgkafka.IdempotencyStore, logger *slog.Logger) pkgkafka.Handler {
	handle := func(ctx context.Context, event *pkgkafka.Event) error {
		if event.EventType != TopicReviewModerated {
			return nil
		}

		var data ReviewModeratedData
		if err := event.UnmarshalData(&data); err != nil {
			// A malformed payload will never decode; drop it.
			logger.WarnContext(ctx, "skipping undecodable review.moderated event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return nil
		}

		companies := []string{data.CompanyID}
		if data.TargetCompanyID != nil && *data.TargetCompanyID != data.CompanyID {
			companies = append(companies, *data.TargetCompanyID)
		}
		for _, id := range companies {
			if err := inv.InvalidateCompany(ctx, id); err != nil {
				return fmt.Errorf("invalidate company %s: %w", id, err)
			}
		}

		logger.DebugContext(ctx, "invalidated public reviews from peer event",
			slog.String("review_id", data.ID),
			slog.String("company_id", data.CompanyID),
		)
		return nil
	}

	return pkgkafka.IdempotentHandler(seen, handle, logger)
}

// NewInvalidationConsumer subscribes groupID to the review.moderated topic.
// Each replica passes its own group so that every replica sees every event.
func NewInvalidationConsumer(brokers []string, groupID string, inv Invalidator, seen pkgkafka.IdempotencyStore, logger *slog.Logger) *pkgkafka.Consumer {
	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    TopicReviewModerated,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}, InvalidationHandler(inv, seen, logger), logger)
}
