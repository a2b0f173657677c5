package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/syncreviews/platform/pkg/kafka"
	"github.com/syncreviews/platform/pkg/logger"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
)

// Kafka topics for review domain events.
var (
	TopicReviewSubmitted = pkgkafka.Topic("review", "submitted")
	TopicReviewModerated = pkgkafka.Topic("review", "moderated")
)

// Aggregate type constant.
const AggregateTypeReview = "review"

// Source identifier for events originating from the reviews service.
const SourceReviewsService = "reviews-service"

// ReviewSubmittedData is the payload for a review.submitted event.
type ReviewSubmittedData struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	TargetType string `json:"review_target_type"`
	Rating     int    `json:"rating"`
	HasVideo   bool   `json:"has_video"`
	Source     string `json:"source"`
}

// ReviewModeratedData is the payload for a review.moderated event.
type ReviewModeratedData struct {
	ID               string  `json:"id"`
	CompanyID        string  `json:"company_id"`
	TargetCompanyID  *string `json:"target_company_id,omitempty"`
	PreviousStatus   string  `json:"previous_status"`
	ModerationStatus string  `json:"moderation_status"`
	FlaggedAsSpam    bool    `json:"flagged_as_spam"`
}

type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  publisher
	sent   pkgkafka.IdempotencyStore
	logger *slog.Logger
}

// NewProducer creates a review event producer. When sent is non-nil the ID of
// every published event is recorded in it, so this replica's invalidation
// consumer skips its own events.
func NewProducer(kafka *pkgkafka.Producer, sent pkgkafka.IdempotencyStore, logger *slog.Logger) *Producer {
	return newProducer(kafka, sent, logger)
}

func newProducer(kafka publisher, sent pkgkafka.IdempotencyStore, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		sent:   sent,
		logger: logger,
	}
}

// PublishReviewSubmitted publishes a review.submitted event.
func (p *Producer) PublishReviewSubmitted(ctx context.Context, review *domain.Review) error {
	data := ReviewSubmittedData{
		ID:         review.ID,
		CompanyID:  review.CompanyID,
		TargetType: review.TargetType,
		Rating:     review.Rating,
		HasVideo:   review.VideoURL != nil,
		Source:     review.Source,
	}
	return p.publish(ctx, TopicReviewSubmitted, review.ID, data)
}

// PublishReviewModerated publishes a review.moderated event.
func (p *Producer) PublishReviewModerated(ctx context.Context, review *domain.Review, previousStatus string) error {
	data := ReviewModeratedData{
		ID:               review.ID,
		CompanyID:        review.CompanyID,
		TargetCompanyID:  review.TargetCompanyID,
		PreviousStatus:   previousStatus,
		ModerationStatus: review.ModerationStatus,
		FlaggedAsSpam:    review.FlaggedAsSpam,
	}
	return p.publish(ctx, TopicReviewModerated, review.ID, data)
}

func (p *Producer) publish(ctx context.Context, topic, reviewID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, reviewID, AggregateTypeReview, SourceReviewsService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	if p.sent != nil {
		if err := p.sent.Add(ctx, event.EventID); err != nil {
			p.logger.WarnContext(ctx, "failed to record published event",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.String("review_id", reviewID),
	)

	return nil
}

// NopPublisher discards events. It is used when no Kafka brokers are configured.
type NopPublisher struct{}

// PublishReviewSubmitted does nothing.
func (NopPublisher) PublishReviewSubmitted(context.Context, *domain.Review) error { return nil }

// PublishReviewModerated does nothing.
func (NopPublisher) PublishReviewModerated(context.Context, *domain.Review, string) error {
	return nil
}
