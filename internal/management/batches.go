package management

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"homeflow/internal/batch"
	"homeflow/pkg/logging"
)

func (h *Handler) registerBatchRoutes(v1 *gin.RouterGroup) {
	batches := v1.Group("/batches")
	{
		batches.GET("", h.ListBatches)
		batches.GET("/:id", h.GetBatch)
		batches.POST("/:id/cancel", h.CancelBatch)
	}
}

// ListBatches godoc
// @Summary      List event batches
// @Tags         batches
// @Produce      json
// @Param        status  query     string  false  "pending, running, completed, failed, partial, retrying, cancelled"
// @Param        type    query     string  false  "Batch type, e.g. real_time or retry"
// @Param        limit   query     int     false  "Page size" default(100)
// @Param        offset  query     int     false  "Page offset"
// @Success      200     {array}   batch.Batch
// @Failure      400     {object}  errors.ErrorResponse
// @Router       /batches [get]
func (h *Handler) ListBatches(c *gin.Context) {
	f := batch.Filter{Limit: parseLimit(c.Query("limit")), Offset: parseOffset(c.Query("offset"))}
	if s := c.Query("status"); s != "" {
		status, err := batch.ParseStatus(s)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		f.Status = status
	}
	if t := c.Query("type"); t != "" {
		batchType, err := batch.ParseType(t)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		f.Type = batchType
	}

	batches, err := h.batches.List(c.Request.Context(), f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if batches == nil {
		batches = []batch.Batch{}
	}
	c.JSON(http.StatusOK, batches)
}

// GetBatch godoc
// @Summary      Get an event batch
// @Tags         batches
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  batch.Batch
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /batches/{id} [get]
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// CancelBatch godoc
// @Summary      Cancel an event batch
// @Description  Stops further retries. Completed batches cannot be cancelled.
// @Tags         batches
// @Produce      json
// @Param        id   path      string  true  "Batch ID"
// @Success      200  {object}  batch.Batch
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /batches/{id}/cancel [post]
func (h *Handler) CancelBatch(c *gin.Context) {
	ctx := logging.WithBatchID(c.Request.Context(), c.Param("id"))

	b, err := h.batches.Get(ctx, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if err := b.Cancel(time.Now().UTC()); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.batches.Save(ctx, b); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Logger.InfowCtx(ctx, "Batch cancelled", "actor", logging.GetActor(ctx))
	c.JSON(http.StatusOK, b)
}
