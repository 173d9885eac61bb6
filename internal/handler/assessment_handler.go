package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AssessmentHandler serves the student assessment pages.
type AssessmentHandler struct {
	svc *service.AssessmentService
	log zerolog.Logger
}

func NewAssessmentHandler(svc *service.AssessmentService, log zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		svc: svc,
		log: log.With().Str("component", "assessment_handler").Logger(),
	}
}

// List godoc
// GET /api/v1/student/assessments
func (h *AssessmentHandler) List(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	views, err := h.svc.List(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"assessments": views})
}

// Get godoc
// GET /api/v1/student/assessments/:id?view=true
// With view=true the completed attempt is returned and proctoring stays off.
func (h *AssessmentHandler) Get(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	resultsOnly, _ := strconv.ParseBool(c.DefaultQuery("view", "false"))
	view, err := h.svc.View(c.Request.Context(), claims.UserID, c.Param("id"), resultsOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Start godoc
// POST /api/v1/student/assessments/:id/start
func (h *AssessmentHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.svc.Start(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitSection godoc
// POST /api/v1/student/assessments/:id/sections/:section
// The coding section takes {code, output, test_results}; mcq and openended take {answers}.
func (h *AssessmentHandler) SubmitSection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctx := c.Request.Context()
	section := model.Section(c.Param("section"))

	var (
		sections model.Sections
		err      error
	)
	switch section {
	case model.SectionCoding:
		var req model.SubmitCodingRequest
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
		sections, err = h.svc.SubmitCoding(ctx, claims.UserID, c.Param("id"), req)
	case model.SectionMCQ, model.SectionOpenEnded:
		var req model.SubmitAnswersRequest
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
		sections, err = h.svc.SubmitAnswers(ctx, claims.UserID, c.Param("id"), section, req)
	default:
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownSection)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sections":   sections,
		"can_submit": sections.Count() == 3,
	})
}

// GetSection godoc
// GET /api/v1/student/assessments/:id/sections/:section
// Returns the stored submission, or null when the section has none.
func (h *AssessmentHandler) GetSection(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	section := model.Section(c.Param("section"))
	if !section.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownSection)
		return
	}

	rec, err := h.svc.SectionRecord(c.Request.Context(), claims.UserID, c.Param("id"), section)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"section": section, "submission": rec})
}

// Submit godoc
// POST /api/v1/student/assessments/:id/submit
func (h *AssessmentHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"result": result,
		"signal": model.NewCompletionSignal(result),
	})
}

// Interrupt godoc
// POST /api/v1/student/assessments/:id/interrupt
// Simulates a technical issue.
func (h *AssessmentHandler) Interrupt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.InterruptRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "technical issue"
	}

	view, err := h.svc.Interrupt(c.Request.Context(), claims.UserID, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// ReAttempt godoc
// POST /api/v1/student/assessments/:id/reattempt
func (h *AssessmentHandler) ReAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.svc.RequestReAttempt(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, view)
}

// Acknowledge godoc
// POST /api/v1/student/assessments/:id/acknowledge
// Dismisses the blocking violation warning.
func (h *AssessmentHandler) Acknowledge(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.svc.Acknowledge(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// Leave godoc
// DELETE /api/v1/student/assessments/:id/attempt
// Discards the live attempt when the student navigates away.
func (h *AssessmentHandler) Leave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	discarded := h.svc.Leave(claims.UserID, c.Param("id"))
	response.Success(c, http.StatusOK, gin.H{"discarded": discarded})
}

// SubmitAssignment godoc
// POST /api/v1/student/assignments/:id/submission
func (h *AssessmentHandler) SubmitAssignment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AssignmentSubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.svc.SubmitAssignment(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"submission": sub})
}

// fail maps service and controller errors to API error codes.
func (h *AssessmentHandler) fail(c *gin.Context, err error) {
	status, code := attemptErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Assessment request failed")
	}
	response.Fail(c, status, code)
}

func attemptErrorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNoResult):
		return http.StatusNotFound, response.ErrNoResult
	case errors.Is(err, service.ErrAttemptNotStarted):
		return http.StatusConflict, response.ErrAttemptNotStarted
	case errors.Is(err, proctor.ErrAttemptClosed):
		return http.StatusConflict, response.ErrAttemptClosed
	case errors.Is(err, proctor.ErrAttemptExpired):
		return http.StatusGone, response.ErrAttemptExpired
	case errors.Is(err, proctor.ErrAttemptNotOpen):
		return http.StatusConflict, response.ErrAttemptNotOpen
	case errors.Is(err, proctor.ErrSectionsIncomplete):
		return http.StatusUnprocessableEntity, response.ErrSectionsIncomplete
	case errors.Is(err, proctor.ErrNotInterrupted):
		return http.StatusConflict, response.ErrNotInterrupted
	case errors.Is(err, proctor.ErrReAttemptPending):
		return http.StatusConflict, response.ErrReAttemptPending
	case errors.Is(err, proctor.ErrWarningPending):
		return http.StatusConflict, response.ErrWarningPending
	case errors.Is(err, proctor.ErrUnknownSection):
		return http.StatusBadRequest, response.ErrUnknownSection
	}
	return http.StatusInternalServerError, response.ErrInternal
}
