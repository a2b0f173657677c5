package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apperrors "github.com/syncreviews/platform/pkg/errors"
	"github.com/syncreviews/platform/pkg/httputil"
	"github.com/syncreviews/platform/pkg/logger"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/service"
)

// redactedStoreError replaces store failure messages when exposure is disabled.
const redactedStoreError = "failed to load reviews"

// gatewayError is the error body of the public review gateway.
type gatewayError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// gatewayResponse is the success body of the public review gateway.
type gatewayResponse struct {
	Reviews []domain.PublicReview `json:"reviews"`
}

// PublicHandler serves GET /public-reviews, the unauthenticated data source of
// embedded widgets. It uses its own wire shape instead of the API envelope.
type PublicHandler struct {
	service           *service.PublicService
	exposeStoreErrors bool
	logger            *slog.Logger
}

// NewPublicHandler creates the public review gateway handler. When
// exposeStoreErrors is false, store failures answer with a generic message;
// the full error is logged either way.
func NewPublicHandler(svc *service.PublicService, exposeStoreErrors bool, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		service:           svc,
		exposeStoreErrors: exposeStoreErrors,
		logger:            logger,
	}
}

// ServeHTTP handles /public-reviews
// @Summary List public reviews
// @Description Returns approved, non-spam company reviews for embedding, newest first
// @Tags public
// @Produce json
// @Param company_id query string true "Company identifier"
// @Param limit query int false "Number of reviews (clamped to 1-50)" default(10)
// @Success 200 {object} gatewayResponse
// @Failure 400 {object} gatewayError
// @Failure 405 {object} gatewayError
// @Failure 500 {object} gatewayError
// @Router /public-reviews [get]
func (h *PublicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.log(r).ErrorContext(r.Context(), "public reviews panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			httputil.WriteJSON(w, http.StatusInternalServerError, gatewayError{
				Error:   "Unexpected error",
				Details: fmt.Sprint(rec),
			})
		}
	}()

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet:
	default:
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, gatewayError{
			Error: apperrors.MethodNotAllowed(r.Method, http.MethodGet).Message,
		})
		return
	}

	q := r.URL.Query()
	limit := domain.ParseLimit(q.Get("limit"))

	reviews, err := h.service.ListPublic(r.Context(), q.Get("company_id"), limit)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			var appErr *apperrors.AppError
			msg := err.Error()
			if errors.As(err, &appErr) {
				msg = appErr.Message
			}
			httputil.WriteJSON(w, http.StatusBadRequest, gatewayError{Error: msg})
			return
		}

		h.log(r).ErrorContext(r.Context(), "failed to list public reviews",
			slog.String("company_id", q.Get("company_id")),
			slog.String("error", err.Error()),
		)
		msg := redactedStoreError
		if h.exposeStoreErrors {
			msg = err.Error()
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, gatewayError{Error: msg})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, gatewayResponse{Reviews: reviews})
}

func (h *PublicHandler) log(r *http.Request) *slog.Logger {
	if l := logger.FromContext(r.Context()); l != slog.Default() {
		return l
	}
	return h.logger
}
