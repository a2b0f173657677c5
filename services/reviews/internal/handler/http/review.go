package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/syncreviews/platform/pkg/httputil"
	"github.com/syncreviews/platform/pkg/validator"
	"github.com/syncreviews/platform/services/reviews/internal/service"
)

// ReviewHandler handles review collection from QR landing pages.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review collection handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
type SubmitReviewRequest struct {
	Rating          int    `json:"rating" validate:"required,min=1,max=5"`
	Comment         string `json:"comment" validate:"max=4000"`
	VideoURL        string `json:"video_url" validate:"omitempty,httpurl,max=2048"`
	CustomerName    string `json:"customer_name" validate:"max=120"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email,max=255"`
	EmployeeID      string `json:"employee_id" validate:"omitempty,max=64"`
	TargetCompanyID string `json:"target_company_id" validate:"omitempty,max=64"`
}

// --- Handlers ---

// SubmitReview handles POST /api/v1/companies/{companyId}/reviews
// @Summary Submit a review
// @Description Stores a customer review collected through a QR code. The review awaits moderation.
// @Tags reviews
// @Accept json
// @Produce json
// @Param companyId path string true "Company identifier"
// @Param request body SubmitReviewRequest true "Review to submit"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{}
// @Router /api/v1/companies/{companyId}/reviews [post]
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	if companyID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "company id is required"},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SubmitReviewRequest
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

	review, err := h.service.Submit(r.Context(), &service.SubmitReviewInput{
		CompanyID:       companyID,
		TargetCompanyID: req.TargetCompanyID,
		EmployeeID:      req.EmployeeID,
		Rating:          req.Rating,
		Comment:         req.Comment,
		VideoURL:        req.VideoURL,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: map[string]any{
		"id":                review.ID,
		"moderation_status": review.ModerationStatus,
		"created_at":        review.CreatedAt,
	}})
}
