// Package widget renders the embeddable reviews widget on the server. It
// mirrors the browser embed script: configuration is read from the data-*
// attributes of each script tag, one isolated widget is mounted per tag, and
// every user-supplied field is emitted as text.
package widget

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Theme values accepted in data-theme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
	ThemeAuto  = "auto"
)

const (
	// ScriptName is the file name the locator matches in script src attributes.
	ScriptName = "widget.js"

	// GatewayPath is appended to the script origin when data-api is absent.
	GatewayPath = "/public-reviews"

	// DefaultLimit is used when data-limit is absent or not a plain decimal
	// integer with an optional sign. "10px" falls back rather than reading 10.
	DefaultLimit = 5

	// MountedAttr marks a script tag a widget has been mounted for.
	MountedAttr = "data-sr-mounted"
)

// ErrMissingCompany is returned for a script tag without data-company.
var ErrMissingCompany = errors.New("widget: data-company attribute is required")

// Source is one configuration source, normally a script element.
type Source interface {
	// Attr returns the value of attribute name and whether it is present.
	Attr(name string) (string, bool)
}

// Config is the configuration of one widget instance. It is rebuilt from the
// embedding markup on every load and never persisted.
type Config struct {
	CompanyID string
	Theme     string
	Limit     int
	Target    string
	APIBase   string
}

// ParseOptions carries page context needed to resolve a configuration.
type ParseOptions struct {
	// PageURL resolves relative script src values. May be nil.
	PageURL *url.URL

	// PrefersDark reports the reader's dark-mode preference. Consulted once,
	// when data-theme is auto. Nil means light.
	PrefersDark func() bool
}

// ParseConfig reads the widget configuration from src.
func ParseConfig(src Source, opts ParseOptions) (Config, error) {
	company := attr(src, "data-company")
	if company == "" {
		return Config{}, ErrMissingCompany
	}

	limit := DefaultLimit
	if raw := attr(src, "data-limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	apiBase := attr(src, "data-api")
	if apiBase == "" {
		apiBase = deriveAPIBase(attr(src, "src"), opts.PageURL)
	}

	return Config{
		CompanyID: company,
		Theme:     ResolveTheme(attr(src, "data-theme"), opts.PrefersDark),
		Limit:     limit,
		Target:    attr(src, "data-target"),
		APIBase:   apiBase,
	}, nil
}

// ResolveTheme maps a data-theme value to light or dark. Unknown values are light.
func ResolveTheme(theme string, prefersDark func() bool) string {
	switch strings.ToLower(strings.TrimSpace(theme)) {
	case ThemeDark:
		return ThemeDark
	case ThemeAuto:
		if prefersDark != nil && prefersDark() {
			return ThemeDark
		}
		return ThemeLight
	default:
		return ThemeLight
	}
}

// GatewayURL builds the gateway request URL for c. The limit is passed
// through unchanged; the gateway clamps it.
func (c Config) GatewayURL() string {
	q := url.Values{}
	q.Set("company_id", c.CompanyID)
	q.Set("limit", strconv.Itoa(c.Limit))

	u, err := url.Parse(c.APIBase)
	if err != nil {
		return c.APIBase + "?" + q.Encode()
	}
	existing := u.Query()
	for k, v := range q {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String()
}

func deriveAPIBase(src string, page *url.URL) string {
	u, err := url.Parse(src)
	if err != nil {
		return GatewayPath
	}
	if page != nil {
		u = page.ResolveReference(u)
	}
	if u.Scheme == "" || u.Host == "" {
		return GatewayPath
	}
	return u.Scheme + "://" + u.Host + GatewayPath
}

func attr(src Source, name string) string {
	v, _ := src.Attr(name)
	return strings.TrimSpace(v)
}
