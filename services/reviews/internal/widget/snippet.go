package widget

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/net/html"
)

// DefaultTargetID is the mount point id used by generated snippets.
const DefaultTargetID = "reviews-widget"

var snippetTmpl = template.Must(template.New("snippet").Parse(
	`<div id="{{.TargetID}}"></div>
<script defer src="{{.ScriptURL}}"
  data-company="{{.CompanyID}}" data-theme="{{.Theme}}"
  data-limit="{{.Limit}}" data-target="#{{.TargetID}}"></script>
`))

type snippetData struct {
	TargetID  string
	ScriptURL string
	CompanyID string
	Theme     string
	Limit     int
}

// Snippet returns the embed markup an integrator pastes into their site.
// origin is the public base URL serving widget.js.
func Snippet(origin string, cfg Config) (string, error) {
	if strings.TrimSpace(cfg.CompanyID) == "" {
		return "", ErrMissingCompany
	}
	theme := strings.ToLower(strings.TrimSpace(cfg.Theme))
	switch theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		theme = ThemeLight
	}
	limit := cfg.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	var buf bytes.Buffer
	err := snippetTmpl.Execute(&buf, snippetData{
		TargetID:  DefaultTargetID,
		ScriptURL: strings.TrimRight(origin, "/") + "/" + ScriptName,
		CompanyID: cfg.CompanyID,
		Theme:     theme,
		Limit:     limit,
	})
	if err != nil {
		return "", fmt.Errorf("render snippet: %w", err)
	}
	return buf.String(), nil
}

// PreviewDocument parses a minimal host page containing the snippet, ready to
// be mounted server side.
func PreviewDocument(origin string, cfg Config) (*html.Node, error) {
	snippet, err := Snippet(origin, cfg)
	if err != nil {
		return nil, err
	}
	page := `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<meta name="viewport" content="width=device-width, initial-scale=1">` +
		`<title>Reviews widget preview</title></head><body>` + snippet + `</body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse preview document: %w", err)
	}
	return doc, nil
}
