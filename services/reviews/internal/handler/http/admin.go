package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/syncreviews/platform/pkg/httputil"
	"github.com/syncreviews/platform/pkg/middleware"
	"github.com/syncreviews/platform/pkg/pagination"
	"github.com/syncreviews/platform/pkg/validator"
	"github.com/syncreviews/platform/services/reviews/internal/domain"
	"github.com/syncreviews/platform/services/reviews/internal/service"
)

// AdminHandler handles the operator moderation endpoints.
type AdminHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewAdminHandler creates a new moderation handler.
func NewAdminHandler(svc *service.ReviewService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service: svc,
		logger:  logger,
	}
}

// ModerateReviewRequest is the JSON request body for moderating a review.
type ModerateReviewRequest struct {
	ModerationStatus *string `json:"moderation_status" validate:"omitempty,oneof=pending approved rejected"`
	FlaggedAsSpam    *bool   `json:"flagged_as_spam"`
}

// ListReviews handles GET /api/v1/admin/companies/{companyId}/reviews
// @Summary List a company's reviews
// @Description Returns the moderation queue with an approved-rating summary
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param companyId path string true "Company identifier"
// @Param status query string false "Filter by moderation status"
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page (max 100)" default(20)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/admin/companies/{companyId}/reviews [get]
func (h *AdminHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")

	var status *string
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		status = &v
	}

	result, err := h.service.ListForCompany(r.Context(), companyID, status, pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// ModerateReview handles PATCH /api/v1/admin/reviews/{id}/moderation
// @Summary Moderate a review
// @Description Sets the moderation status and/or spam flag of a review of the operator's company
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Review UUID"
// @Param request body ModerateReviewRequest true "Moderation changes"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/admin/reviews/{id}/moderation [patch]
func (h *AdminHandler) ModerateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ModerateReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	companyID := middleware.CompanyIDFromContext(r.Context())
	review, err := h.service.Moderate(r.Context(), companyID, id.String(), domain.ModerationUpdate{
		Status:        req.ModerationStatus,
		FlaggedAsSpam: req.FlaggedAsSpam,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}
