package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"golang.org/x/net/html"

	"github.com/syncreviews/platform/pkg/httputil"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/service"
	"github.com/syncreviews/platform/services/reviews/internal/widget"
)

// QR code size bounds in pixels.
const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// WidgetHandler serves the embed script, the server-rendered preview frame and
// the operator configuration helpers.
type WidgetHandler struct {
	public  *service.PublicService
	baseURL string
	logger  *slog.Logger
}

// NewWidgetHandler creates a widget handler. baseURL is the public origin that
// serves widget.js and the collection pages.
func NewWidgetHandler(public *service.PublicService, baseURL string, logger *slog.Logger) *WidgetHandler {
	return &WidgetHandler{
		public:  public,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Script handles GET /widget.js
func (h *WidgetHandler) Script(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteBody(w, http.StatusOK, "application/javascript; charset=utf-8", widget.Script)
}

// Frame handles GET /widget/frame
// @Summary Widget preview
// @Description Renders the widget server side into a standalone HTML page
// @Tags widget
// @Produce html
// @Param company query string true "Company identifier"
// @Param theme query string false "light, dark or auto" default(light)
// @Param limit query int false "Number of reviews" default(5)
// @Success 200 {string} string
// @Failure 400 {object} map[string]interface{}
// @Router /widget/frame [get]
func (h *WidgetHandler) Frame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := widget.Config{
		CompanyID: strings.TrimSpace(q.Get("company")),
		Theme:     q.Get("theme"),
		Limit:     parseWidgetLimit(q.Get("limit")),
	}

	doc, err := widget.PreviewDocument(h.baseURL, cfg)
	if err != nil {
		writeWidgetConfigError(w, r, err, h.logger)
		return
	}

	mounter := &widget.Mounter{
		Fetcher: widget.FetcherFunc(func(ctx context.Context, c widget.Config) ([]domain.PublicReview, error) {
			return h.public.ListPublic(ctx, c.CompanyID, c.Limit)
		}),
		Renderer: widget.NewRenderer(nil),
		Logger:   h.logger,
		PrefersDark: func() bool {
			return strings.EqualFold(r.Header.Get("Sec-CH-Prefers-Color-Scheme"), "dark")
		},
		RemoveScripts: true,
	}
	if _, err := mounter.MountAll(r.Context(), doc, widget.NewHTMLLocator(doc)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.Header().Set("Vary", "Sec-CH-Prefers-Color-Scheme")
	httputil.WriteBody(w, http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// Snippet handles GET /api/v1/admin/companies/{companyId}/widget/snippet
// @Summary Generate embed snippet
// @Description Returns the markup an integrator pastes into their site
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param companyId path string true "Company identifier"
// @Param theme query string false "light, dark or auto" default(light)
// @Param limit query int false "Number of reviews" default(5)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/companies/{companyId}/widget/snippet [get]
func (h *WidgetHandler) Snippet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snippet, err := widget.Snippet(h.baseURL, widget.Config{
		CompanyID: chi.URLParam(r, "companyId"),
		Theme:     q.Get("theme"),
		Limit:     parseWidgetLimit(q.Get("limit")),
	})
	if err != nil {
		writeWidgetConfigError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{
		"snippet":    snippet,
		"script_url": h.baseURL + "/" + widget.ScriptName,
	}})
}

// QRCode handles GET /api/v1/admin/companies/{companyId}/qr.png
// @Summary Collection QR code
// @Description Returns a PNG QR code pointing at the company's review collection page
// @Tags admin
// @Produce png
// @Security BearerAuth
// @Param companyId path string true "Company identifier"
// @Param size query int false "Image size in pixels (128-1024)" default(256)
// @Success 200 {file} binary
// @Router /api/v1/admin/companies/{companyId}/qr.png [get]
func (h *WidgetHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	size := defaultQRSize
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil {
		size = max(minQRSize, min(v, maxQRSize))
	}

	png, err := qrcode.Encode(h.CollectURL(chi.URLParam(r, "companyId")), qrcode.Medium, size)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteBody(w, http.StatusOK, "image/png", png)
}

// CollectURL returns the review collection page a company's QR code opens.
func (h *WidgetHandler) CollectURL(companyID string) string {
	return h.baseURL + "/r/" + url.PathEscape(companyID)
}

func parseWidgetLimit(raw string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return n
	}
	return widget.DefaultLimit
}

func writeWidgetConfigError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	if errors.Is(err, widget.ErrMissingCompany) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "company is required"},
		})
		return
	}
	httputil.WriteError(w, r, err, logger)
}
