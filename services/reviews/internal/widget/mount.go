package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// MountResult describes the outcome of mounting one script tag.
type MountResult struct {
	Config    Config
	Container *html.Node
	Reviews   int
	Skipped   bool
	Err       error
}

// Mounter mounts one widget per located script tag into a document.
type Mounter struct {
	Fetcher     Fetcher
	Renderer    *Renderer
	Logger      *slog.Logger
	PrefersDark func() bool
	PageURL     *url.URL

	// RemoveScripts detaches the located script elements once mounted, so
	// a browser opening the rendered page does not mount a second time.
	RemoveScripts bool
}

// MountAll mounts every source found by loc into doc. Each mount is isolated:
// a failure in one leaves the others intact. Results are in locator order.
func (m *Mounter) MountAll(ctx context.Context, doc *html.Node, loc Locator) ([]MountResult, error) {
	sources, err := loc.Sources()
	if err != nil {
		return nil, fmt.Errorf("locate widget scripts: %w", err)
	}

	renderer := m.Renderer
	if renderer == nil {
		renderer = NewRenderer(nil)
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(sources) > 0 {
		EnsureStyle(doc)
	}

	results := make([]MountResult, len(sources))

	// Containers are placed up front so the document order of widgets is
	// stable regardless of which fetch finishes first.
	for i, src := range sources {
		markMounted(src.Node())
		results[i] = m.place(doc, src, renderer, logger)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range results {
		if results[i].Skipped || results[i].Err != nil {
			continue
		}
		wg.Add(1)
		go func(res *MountResult) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					logger.ErrorContext(ctx, "widget mount panicked",
						slog.String("company_id", res.Config.CompanyID),
						slog.Any("panic", p),
					)
					mu.Lock()
					res.Err = fmt.Errorf("widget mount panic: %v", p)
					renderer.RenderError(res.Container)
					mu.Unlock()
				}
			}()

			reviews, err := m.Fetcher.FetchReviews(ctx, res.Config)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WarnContext(ctx, "failed to load reviews",
					slog.String("company_id", res.Config.CompanyID),
					slog.String("error", err.Error()),
				)
				res.Err = err
				renderer.RenderError(res.Container)
				return
			}
			res.Reviews = len(reviews)
			renderer.RenderReviews(res.Container, reviews)
		}(&results[i])
	}
	wg.Wait()

	if m.RemoveScripts {
		for _, src := range sources {
			if n := src.Node(); n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	}

	return results, nil
}

func (m *Mounter) place(doc *html.Node, src *ScriptSource, renderer *Renderer, logger *slog.Logger) (res MountResult) {
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("widget placement panic: %v", p)
			logger.Error("widget placement panicked", slog.Any("panic", p))
		}
	}()

	cfg, err := ParseConfig(src, ParseOptions{PageURL: m.PageURL, PrefersDark: m.PrefersDark})
	if err != nil {
		if errors.Is(err, ErrMissingCompany) {
			logger.Warn("SyncReviews widget: missing data-company attribute")
			return MountResult{Skipped: true, Err: err}
		}
		return MountResult{Err: err}
	}

	container := renderer.Container(cfg.Theme)
	if target := findTarget(doc, cfg.Target, logger); target != nil {
		target.AppendChild(container)
	} else {
		insertAfter(src.Node(), container)
	}

	return MountResult{Config: cfg, Container: container}
}

// findTarget resolves a data-target selector. Invalid or unmatched selectors
// return nil.
func findTarget(doc *html.Node, selector string, logger *slog.Logger) *html.Node {
	if selector == "" {
		return nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		logger.Warn("invalid widget target selector",
			slog.String("selector", selector),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return sel.MatchFirst(doc)
}

func markMounted(n *html.Node) {
	if n == nil {
		return
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == MountedAttr {
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: MountedAttr})
}

func insertAfter(ref, n *html.Node) {
	parent := ref.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(n, ref.NextSibling)
}
