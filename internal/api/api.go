package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/webinar-sync/internal/command"
	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/queue"
	"example.com/webinar-sync/internal/store"
	"example.com/webinar-sync/internal/syncerr"
)

const correlationHeader = "X-Correlation-ID"

type Handler struct {
	store      store.Store
	dispatcher *command.Dispatcher
	q          queue.Client
	mux        *gin.Engine
}

// NewHandler creates an API handler. q may be nil; if provided, created job
// IDs are published to the queue.
func NewHandler(s store.Store, d *command.Dispatcher, q queue.Client) *Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h := &Handler{store: s, dispatcher: d, q: q, mux: r}
	h.routes()
	return h
}

// Router returns the underlying http.Handler (gin engine implements http.Handler)
func (h *Handler) Router() *gin.Engine { return h.mux }

func (h *Handler) routes() {
	h.mux.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	h.mux.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := h.mux.Group("/api")
	api.POST("/actions", h.action)

	// jobs
	api.POST("/jobs", h.createJob)
	api.GET("/jobs", h.listJobs)
	api.GET("/jobs/:id", h.jobByID)

	api.GET("/users/:userId/history", h.history)
}

// requestLogger attaches a correlation id to the request context and logs
// one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(correlationHeader); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		}
		ctx = logging.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(correlationHeader, logging.CorrelationIDFromContext(ctx))

		start := time.Now()
		c.Next()
		logging.Ctx(ctx).Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func (h *Handler) action(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, syncerr.Wrap(syncerr.KindInvalidRequest, err, "read body"))
		return
	}
	req, err := command.Decode(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := h.dispatcher.Dispatch(c.Request.Context(), req)
	c.JSON(resp.Status, resp)
}

func (h *Handler) fail(c *gin.Context, err error) {
	resp := command.ErrorResponse(err)
	c.JSON(resp.Status, resp)
}

func (h *Handler) createJob(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, syncerr.Wrap(syncerr.KindInvalidRequest, err, "read body"))
		return
	}
	req, err := command.Decode(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	params, err := req.Params()
	if err != nil {
		h.fail(c, syncerr.Wrap(syncerr.KindInvalidRequest, err, "encode params"))
		return
	}

	ctx := c.Request.Context()
	j := &model.SyncJob{Action: req.Action, Params: params}
	id, err := h.store.CreateJob(ctx, j)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("create job failed")
		h.fail(c, err)
		return
	}
	// publish to queue if available
	if h.q != nil {
		if err := h.q.Publish(ctx, id); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("job_id", id).Msg("failed to publish job to queue")
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": model.StatusPending})
}

func (h *Handler) listJobs(c *gin.Context) {
	list, err := h.store.ListJobs(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) jobByID(c *gin.Context) {
	j, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.fail(c, syncerr.Newf(syncerr.KindNotFound, "job %s not found", c.Param("id")))
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (h *Handler) history(c *gin.Context) {
	list, err := h.store.ListSyncHistory(c.Request.Context(), c.Param("userId"), queryLimit(c, 20))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 500)
}
