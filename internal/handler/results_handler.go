package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const maxPerPage = 100

// ResultsHandler lists archived attempt results for instructors.
type ResultsHandler struct {
	catalog *service.Catalog
	results ResultsReader
	log     zerolog.Logger
}

func NewResultsHandler(catalog *service.Catalog, results ResultsReader, log zerolog.Logger) *ResultsHandler {
	return &ResultsHandler{
		catalog: catalog,
		results: results,
		log:     log.With().Str("component", "results_handler").Logger(),
	}
}

// ListResults godoc
// GET /api/v1/instructor/assessments/:id/results?page=1&per_page=20
func (h *ResultsHandler) ListResults(c *gin.Context) {
	a, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = 20
	}

	results, total, err := h.results.ListResults(c.Request.Context(), a.ID, page, perPage)
	if err != nil {
		h.log.Error().Err(err).Str("assessment_id", a.ID).Msg("Failed to list results")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{
		"assessment": a,
		"results":    results,
	}, response.NewPagination(page, perPage, total))
}
