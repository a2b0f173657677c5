// Command widget-render mounts the review widgets of a static HTML page
// server-side. Every widget script tag in the input is resolved against the
// gateway, rendered in place, and removed, so the output page needs no
// JavaScript to show reviews.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/html"

	pkgconfig "github.com/syncreviews/platform/pkg/config"
	"github.com/syncreviews/platform/pkg/httpclient"
	"github.com/syncreviews/platform/pkg/logger"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/widget"
)

// envConfig holds defaults read from WIDGET_* variables. Flags override them.
type envConfig struct {
	API      string        `env:"API"`
	PageURL  string        `env:"PAGE_URL"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"warn"`
}

type options struct {
	in       string
	out      string
	api      string
	pageURL  string
	timeout  time.Duration
	logLevel string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "widget-render:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		return err
	}

	log := logger.NewWithWriter("widget-render", opts.logLevel, stderr)

	var page *url.URL
	if opts.pageURL != "" {
		page, err = url.Parse(opts.pageURL)
		if err != nil {
			return fmt.Errorf("parse page url: %w", err)
		}
	}

	in := stdin
	if opts.in != "" && opts.in != "-" {
		f, err := os.Open(opts.in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	doc, err := html.Parse(in)
	if err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = opts.timeout
	httpCfg.UserAgent = "syncreviews-widget-render/1"
	client := widget.NewClient(httpCfg, cache.NewQuotaTracker(cache.DefaultQuotaConfig()), log)

	var fetcher widget.Fetcher = client
	if opts.api != "" {
		fetcher = widget.FetcherFunc(func(ctx context.Context, cfg widget.Config) ([]domain.PublicReview, error) {
			cfg.APIBase = opts.api
			return client.FetchReviews(ctx, cfg)
		})
	}

	mounter := &widget.Mounter{
		Fetcher:       fetcher,
		Logger:        log,
		PageURL:       page,
		RemoveScripts: true,
	}
	results, err := mounter.MountAll(ctx, doc, widget.NewHTMLLocator(doc))
	if err != nil {
		return err
	}

	mounted, failed := 0, 0
	for _, res := range results {
		switch {
		case res.Skipped:
		case res.Err != nil:
			failed++
		default:
			mounted++
		}
	}
	log.Info("widgets rendered",
		slog.Int("found", len(results)),
		slog.Int("mounted", mounted),
		slog.Int("failed", failed),
	)

	out := stdout
	if opts.out != "" && opts.out != "-" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := html.Render(out, doc); err != nil {
		return fmt.Errorf("render output: %w", err)
	}
	return nil
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var env envConfig
	if err := pkgconfig.LoadWithPrefix(&env, "WIDGET_"); err != nil {
		return options{}, err
	}

	var opts options
	fs := flag.NewFlagSet("widget-render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.in, "in", "-", "input HTML file (- for stdin)")
	fs.StringVar(&opts.out, "out", "-", "output HTML file (- for stdout)")
	fs.StringVar(&opts.api, "api", env.API, "gateway URL overriding data-api and the script origin")
	fs.StringVar(&opts.pageURL, "page-url", env.PageURL, "URL the page is served from, used to resolve relative script src")
	fs.DurationVar(&opts.timeout, "timeout", env.Timeout, "per-widget fetch timeout")
	fs.StringVar(&opts.logLevel, "log-level", env.LogLevel, "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	return opts, nil
}
