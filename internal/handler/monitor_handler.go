package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // a slow archive query must not stall the stream
	snapshotSize      = 200
)

// ResultsReader reads archived attempt results.
type ResultsReader interface {
	ListResults(ctx context.Context, assessmentID string, page, perPage int) ([]model.AttemptResult, int, error)
	ViolationCounts(ctx context.Context, assessmentID string) (map[int]int64, error)
}

// MonitorHandler streams an assessment's live proctoring feed to instructors.
type MonitorHandler struct {
	rdb     *redis.Client
	catalog *service.Catalog
	results ResultsReader
	log     zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, catalog *service.Catalog, results ResultsReader, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		catalog: catalog,
		results: results,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/instructor/assessments/:id/monitor
// Sends an archived snapshot, then relays violations and ASSESSMENT_COMPLETED
// signals as they are published.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	assessment, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	reqCtx := c.Request.Context()

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AssessmentMonitorChannel(assessment.ID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Monitor subscription failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, assessment)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	h.log.Info().Str("assessment_id", assessment.ID).Msg("Instructor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessment.ID).Msg("Instructor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the published JSON as is.
			writeSSEData(c, []byte(msg.Payload))

		case <-keepAlive.C:
			writeSSEData(c, []byte(`{"type":"ping"}`))
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, a model.Assessment) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	results, total, err := h.results.ListResults(ctx, a.ID, 1, snapshotSize)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load archived results for snapshot")
		results = []model.AttemptResult{}
	}
	counts, err := h.results.ViolationCounts(ctx, a.ID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load violation counts for snapshot")
		counts = map[int]int64{}
	}

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	var totalViolations int64
	for _, n := range counts {
		totalViolations += n
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"assessment": gin.H{
				"id":       a.ID,
				"title":    a.Title,
				"duration": a.Duration.Minutes(),
			},
			"stats": gin.H{
				"total_completed":  total,
				"total_passed":     passed,
				"total_violations": totalViolations,
			},
			"results":          results,
			"violation_counts": counts,
		},
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
