package widget

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/syncreviews/platform/pkg/validator"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
)

// StyleID is the id of the page-wide style element shared by all widgets.
const StyleID = "syncreviews-widget-style"

// Placeholder texts.
const (
	TextEmpty  = "No reviews yet."
	TextFailed = "Failed to load reviews"
)

const styleSheet = `.sr-widget{--sr-bg:#ffffff;--sr-fg:#1f2937;--sr-muted:#6b7280;--sr-card:#f9fafb;--sr-border:#e5e7eb;--sr-star:#f59e0b;--sr-star-off:#d1d5db;` +
	`font-family:system-ui,-apple-system,"Segoe UI",Roboto,sans-serif;background:var(--sr-bg);color:var(--sr-fg);` +
	`border:1px solid var(--sr-border);border-radius:12px;padding:16px;max-width:640px;box-sizing:border-box}` +
	`.sr-widget[data-theme="dark"]{--sr-bg:#111827;--sr-fg:#f9fafb;--sr-muted:#9ca3af;--sr-card:#1f2937;--sr-border:#374151;--sr-star-off:#4b5563}` +
	`.sr-header{display:flex;justify-content:space-between;align-items:baseline;margin-bottom:12px}` +
	`.sr-title{margin:0;font-size:18px;font-weight:600}` +
	`.sr-powered{font-size:12px;color:var(--sr-muted)}` +
	`.sr-list{display:flex;flex-direction:column;gap:12px}` +
	`.sr-card{background:var(--sr-card);border:1px solid var(--sr-border);border-radius:8px;padding:12px}` +
	`.sr-card--placeholder{text-align:center;color:var(--sr-muted)}` +
	`.sr-stars{color:var(--sr-star);letter-spacing:2px}` +
	`.sr-star--off{color:var(--sr-star-off)}` +
	`.sr-meta{display:flex;justify-content:space-between;font-size:13px;color:var(--sr-muted);margin:4px 0}` +
	`.sr-name{font-weight:600;color:var(--sr-fg)}` +
	`.sr-comment{margin:6px 0 0;line-height:1.5;white-space:pre-line;overflow-wrap:anywhere}` +
	`.sr-video{position:relative;display:inline-block;margin-top:8px;border-radius:6px;overflow:hidden}` +
	`.sr-video-thumb{display:flex;align-items:center;justify-content:center;width:160px;height:90px;background:#000;color:#fff}` +
	`.sr-play{font-size:24px}` +
	`.sr-footer{margin-top:12px;text-align:right;font-size:11px;color:var(--sr-muted)}` +
	`.sr-footer a{color:inherit;text-decoration:none}`

// Renderer builds widget markup as html.Node trees. User-supplied fields are
// only ever attached as text nodes or validated attribute values.
type Renderer struct {
	// Location formats review dates. Nil means UTC.
	Location *time.Location

	// BrandURL is the footer link target.
	BrandURL string
}

// NewRenderer creates a renderer formatting dates in loc.
func NewRenderer(loc *time.Location) *Renderer {
	return &Renderer{Location: loc, BrandURL: "https://syncreviews.io"}
}

// Container builds the widget shell: header, an empty list and the footer
// brand. It is shown before any data is fetched.
func (r *Renderer) Container(theme string) *html.Node {
	root := element(atom.Div, "class", "sr-widget", "data-theme", theme)

	header := element(atom.Div, "class", "sr-header")
	header.AppendChild(withText(element(atom.H3, "class", "sr-title"), "Reviews"))
	header.AppendChild(withText(element(atom.Span, "class", "sr-powered"), "Powered by SyncReviews"))
	root.AppendChild(header)

	root.AppendChild(element(atom.Div, "class", "sr-list", "aria-live", "polite"))

	footer := element(atom.Div, "class", "sr-footer")
	brand := element(atom.A, "href", r.BrandURL, "target", "_blank", "rel", "noopener noreferrer")
	footer.AppendChild(withText(brand, "★ SyncReviews"))
	root.AppendChild(footer)

	return root
}

// RenderReviews replaces the list contents of container with one card per
// review, or the empty placeholder.
func (r *Renderer) RenderReviews(container *html.Node, reviews []domain.PublicReview) {
	list := clearList(container)
	if list == nil {
		return
	}
	if len(reviews) == 0 {
		list.AppendChild(placeholder(TextEmpty))
		return
	}
	for _, rv := range reviews {
		list.AppendChild(r.card(rv))
	}
}

// RenderError replaces the list contents of container with the failure placeholder.
func (r *Renderer) RenderError(container *html.Node) {
	if list := clearList(container); list != nil {
		list.AppendChild(placeholder(TextFailed))
	}
}

func (r *Renderer) card(rv domain.PublicReview) *html.Node {
	card := element(atom.Div, "class", "sr-card")
	card.AppendChild(stars(rv.Rating))

	name := rv.CustomerName
	if strings.TrimSpace(name) == "" {
		name = domain.AnonymousName
	}
	meta := element(atom.Div, "class", "sr-meta")
	meta.AppendChild(withText(element(atom.Span, "class", "sr-name"), name))
	if !rv.CreatedAt.IsZero() {
		date := element(atom.Time, "class", "sr-date", "datetime", rv.CreatedAt.UTC().Format(time.RFC3339))
		meta.AppendChild(withText(date, r.formatDate(rv.CreatedAt)))
	}
	card.AppendChild(meta)

	if rv.Comment != nil && *rv.Comment != "" {
		card.AppendChild(withText(element(atom.P, "class", "sr-comment"), *rv.Comment))
	}

	if rv.VideoURL != nil && validator.IsHTTPURL(*rv.VideoURL) {
		link := element(atom.A, "class", "sr-video", "href", *rv.VideoURL,
			"target", "_blank", "rel", "noopener noreferrer", "aria-label", "Watch video review")
		// The thumbnail is a static placeholder; the video is only fetched
		// once the visitor follows the link.
		thumb := element(atom.Span, "class", "sr-video-thumb")
		thumb.AppendChild(withText(element(atom.Span, "class", "sr-play", "aria-hidden", "true"), "▶"))
		link.AppendChild(thumb)
		card.AppendChild(link)
	}

	return card
}

func (r *Renderer) formatDate(t time.Time) string {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Jan 2, 2006")
}

func stars(rating int) *html.Node {
	rating = domain.ClampRating(rating)
	n := element(atom.Div, "class", "sr-stars", "role", "img",
		"aria-label", fmt.Sprintf("%d out of 5 stars", rating))
	for i := 1; i <= 5; i++ {
		class := "sr-star sr-star--on"
		if i > rating {
			class = "sr-star sr-star--off"
		}
		n.AppendChild(withText(element(atom.Span, "class", class), "★"))
	}
	return n
}

func placeholder(text string) *html.Node {
	return withText(element(atom.Div, "class", "sr-card sr-card--placeholder"), text)
}

// StyleElement builds the page-wide style element.
func StyleElement() *html.Node {
	style := element(atom.Style, "id", StyleID)
	style.AppendChild(&html.Node{Type: html.TextNode, Data: styleSheet})
	return style
}

// EnsureStyle inserts the style element into doc unless one with StyleID is
// already present. It reports whether it inserted.
func EnsureStyle(doc *html.Node) bool {
	if findByID(doc, StyleID) != nil {
		return false
	}
	parent := findAtom(doc, atom.Head)
	if parent == nil {
		parent = findAtom(doc, atom.Body)
	}
	if parent == nil {
		parent = doc
	}
	parent.AppendChild(StyleElement())
	return true
}

func clearList(container *html.Node) *html.Node {
	list := findClass(container, "sr-list")
	if list == nil {
		return nil
	}
	for c := list.FirstChild; c != nil; c = list.FirstChild {
		list.RemoveChild(c)
	}
	return list
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func withText(n *html.Node, text string) *html.Node {
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

func walkFind(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := walkFind(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findByID(root *html.Node, id string) *html.Node {
	return walkFind(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && getAttr(n, "id") == id
	})
}

func findAtom(root *html.Node, a atom.Atom) *html.Node {
	return walkFind(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	})
}

func findClass(root *html.Node, class string) *html.Node {
	return walkFind(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, c := range strings.Fields(getAttr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	})
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
