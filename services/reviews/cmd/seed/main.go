// Package main seeds the reviews database with demo data so a widget can be
// previewed end to end. Most generated reviews are approved; a few stay
// pending or are flagged as spam and never reach the public gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/syncreviews/platform/pkg/database"
	"github.com/syncreviews/platform/pkg/logger"
	"github.com/syncreviews/platform/services/reviews/internal/config"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/repository/postgres"
	"github.com/syncreviews/platform/services/reviews/migrations"
)

var customerNames = []string{
	"Ann Lee", "Marco Rossi", "Priya Shah", "Tom Becker", "Yuki Sato",
	"Lena Novak", "Omar Haddad", "Sofia Garcia", "",
}

var comments = []string{
	"Fast and friendly service, will come back.",
	"Great value for the price.",
	"The staff went out of their way to help.",
	"Good overall, a bit of a wait at the counter.",
	"Exactly what I was looking for.",
	"",
}

var videoURLs = []string{
	"https://videos.syncreviews.io/demo/clip-1.mp4",
	"https://videos.syncreviews.io/demo/clip-2.mp4",
}

func main() {
	log.SetFlags(log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[seed] ")

	company := flag.String("company", "demo-company", "company id to seed reviews for")
	count := flag.Int("count", 25, "number of reviews to create")
	seed := flag.Uint64("seed", 42, "random seed, the same seed yields the same ratings and statuses")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbLogger := logger.New("reviews-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Println("Connecting to reviews database...")
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresConfig(), dbLogger)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, dbLogger); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	repo := postgres.NewReviewRepository(pool)
	rng := rand.New(rand.NewPCG(*seed, *seed))
	reviews := demoReviews(*company, *count, time.Now().UTC(), rng)

	created := 0
	for i := range reviews {
		if err := repo.Create(ctx, &reviews[i]); err != nil {
			log.Printf("  WARN: create review %d: %v", i+1, err)
			continue
		}
		created++
	}

	log.Printf("Created %d/%d reviews for %s", created, len(reviews), *company)
	log.Printf("Preview: %s/widget/frame?company=%s", cfg.PublicBaseURL, *company)
}

// demoReviews generates n reviews for company, newest first, spaced a few
// hours apart before now.
func demoReviews(company string, n int, now time.Time, rng *rand.Rand) []domain.Review {
	out := make([]domain.Review, 0, n)
	at := now
	for i := 0; i < n; i++ {
		at = at.Add(-time.Duration(1+rng.IntN(36)) * time.Hour)

		rv := domain.Review{
			ID:               uuid.NewString(),
			CompanyID:        company,
			TargetType:       domain.TargetTypeCompany,
			Rating:           3 + rng.IntN(3),
			ModerationStatus: domain.ModerationApproved,
			Source:           domain.SourceImport,
			CreatedAt:        at,
			UpdatedAt:        at,
		}
		if name := customerNames[rng.IntN(len(customerNames))]; name != "" {
			rv.CustomerName = &name
		}
		if c := comments[rng.IntN(len(comments))]; c != "" {
			rv.Comment = &c
		}
		if rng.IntN(8) == 0 {
			v := videoURLs[rng.IntN(len(videoURLs))]
			rv.VideoURL = &v
		}

		switch roll := rng.IntN(10); {
		case roll == 0:
			rv.ModerationStatus = domain.ModerationPending
		case roll == 1:
			rv.FlaggedAsSpam = true
			rv.Rating = 1
			spam := fmt.Sprintf("Buy followers now %d", i)
			rv.Comment = &spam
		}

		out = append(out, rv)
	}
	return out
}
