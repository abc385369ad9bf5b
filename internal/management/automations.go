package management

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"homeflow/internal/automation"
	"homeflow/internal/backup"
	pkgerrors "homeflow/pkg/errors"
	"homeflow/pkg/logging"
)

type RollbackRequest struct {
	BackupID string `json:"backup_id" binding:"required"`
}

type ExecutionReport struct {
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
}

type ManualBackupRequest struct {
	Note string `json:"note"`
}

type BackupCreated struct {
	ID string `json:"id"`
}

func (h *Handler) registerAutomationRoutes(v1 *gin.RouterGroup) {
	automations := v1.Group("/automations")
	{
		automations.GET("", h.ListAutomations)
		automations.POST("", h.CreateAutomation)
		automations.GET("/:id", h.GetAutomation)
		automations.GET("/:id/history", h.GetAutomationHistory)
		automations.POST("/:id/transition", h.TransitionAutomation)
		automations.POST("/:id/execution-state", h.TransitionExecution)
		automations.POST("/:id/executions", h.RecordExecution)
		automations.POST("/:id/rollback", h.RollbackAutomation)
		if h.backups != nil {
			automations.GET("/:id/backups", h.ListBackups)
			automations.POST("/:id/backups", h.CreateManualBackup)
		}
	}
	if h.backups != nil {
		v1.GET("/backups/:id", h.GetBackup)
	}
}

// ListAutomations godoc
// @Summary      List automations
// @Tags         automations
// @Produce      json
// @Param        state   query     string  false  "draft, active, paused or retired"
// @Param        limit   query     int     false  "Page size" default(100)
// @Param        offset  query     int     false  "Page offset"
// @Success      200     {array}   automation.Automation
// @Failure      400     {object}  errors.ErrorResponse
// @Router       /automations [get]
func (h *Handler) ListAutomations(c *gin.Context) {
	f := automation.Filter{Limit: parseLimit(c.Query("limit")), Offset: parseOffset(c.Query("offset"))}
	if s := c.Query("state"); s != "" {
		state, err := automation.ParseState(s)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		f.State = state
	}

	list, err := h.automations.List(c.Request.Context(), f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if list == nil {
		list = []automation.Automation{}
	}
	c.JSON(http.StatusOK, list)
}

// CreateAutomation godoc
// @Summary      Create an automation in DRAFT
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        automation  body      automation.CreateRequest  true  "Automation"
// @Success      201         {object}  automation.Automation
// @Failure      400         {object}  errors.ErrorResponse
// @Failure      409         {object}  errors.ErrorResponse
// @Router       /automations [post]
func (h *Handler) CreateAutomation(c *gin.Context) {
	var req automation.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	a, err := h.automations.Create(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// GetAutomation godoc
// @Summary      Get an automation
// @Tags         automations
// @Produce      json
// @Param        id   path      string  true  "Automation ID"
// @Success      200  {object}  automation.Automation
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /automations/{id} [get]
func (h *Handler) GetAutomation(c *gin.Context) {
	a, err := h.automations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetAutomationHistory godoc
// @Summary      Get the change history of an automation
// @Tags         automations
// @Produce      json
// @Param        id     path      string  true   "Automation ID"
// @Param        limit  query     int     false  "Maximum entries" default(100)
// @Success      200    {array}   automation.HistoryRecord
// @Router       /automations/{id}/history [get]
func (h *Handler) GetAutomationHistory(c *gin.Context) {
	records, err := h.automations.History(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if records == nil {
		records = []automation.HistoryRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// TransitionAutomation godoc
// @Summary      Move an automation through its lifecycle
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        id          path      string                        true  "Automation ID"
// @Param        transition  body      automation.TransitionRequest  true  "Target state"
// @Success      200         {object}  automation.Automation
// @Failure      400         {object}  errors.ErrorResponse
// @Failure      409         {object}  errors.ErrorResponse
// @Router       /automations/{id}/transition [post]
func (h *Handler) TransitionAutomation(c *gin.Context) {
	var req automation.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	req.AutomationID = c.Param("id")

	a, err := h.automations.Transition(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// TransitionExecution godoc
// @Summary      Change the execution state of an automation
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        id          path      string                                 true  "Automation ID"
// @Param        transition  body      automation.ExecutionTransitionRequest  true  "Target execution state"
// @Success      200         {object}  automation.Automation
// @Failure      409         {object}  errors.ErrorResponse
// @Router       /automations/{id}/execution-state [post]
func (h *Handler) TransitionExecution(c *gin.Context) {
	var req automation.ExecutionTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	req.AutomationID = c.Param("id")

	a, err := h.automations.TransitionExecution(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RecordExecution godoc
// @Summary      Report one execution of an automation
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        id         path      string           true  "Automation ID"
// @Param        execution  body      ExecutionReport  true  "Execution outcome"
// @Success      200        {object}  automation.StatsSnapshot
// @Failure      409        {object}  errors.ErrorResponse
// @Router       /automations/{id}/executions [post]
func (h *Handler) RecordExecution(c *gin.Context) {
	var req ExecutionReport
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.LatencyMs < 0 {
		h.HandleError(c, pkgerrors.ErrValidation.WithMessage("latency_ms must be non-negative"))
		return
	}

	latency := time.Duration(req.LatencyMs * float64(time.Millisecond))
	stats, err := h.automations.RecordExecution(c.Request.Context(), c.Param("id"), req.Success, latency)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RollbackAutomation godoc
// @Summary      Restore the configuration held by a backup
// @Tags         automations
// @Accept       json
// @Produce      json
// @Param        id        path      string           true  "Automation ID"
// @Param        rollback  body      RollbackRequest  true  "Backup to restore"
// @Success      200       {object}  automation.Automation
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Router       /automations/{id}/rollback [post]
func (h *Handler) RollbackAutomation(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	a, err := h.automations.Rollback(c.Request.Context(), c.Param("id"), req.BackupID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// ListBackups godoc
// @Summary      List backups of an automation
// @Tags         backups
// @Produce      json
// @Param        id     path      string  true   "Automation ID"
// @Param        limit  query     int     false  "Maximum entries" default(100)
// @Success      200    {array}   backup.Backup
// @Router       /automations/{id}/backups [get]
func (h *Handler) ListBackups(c *gin.Context) {
	list, err := h.backups.ListForAutomation(c.Request.Context(), c.Param("id"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if list == nil {
		list = []backup.Backup{}
	}
	c.JSON(http.StatusOK, list)
}

// CreateManualBackup godoc
// @Summary      Take a manual backup of an automation
// @Tags         backups
// @Accept       json
// @Produce      json
// @Param        id      path      string               true   "Automation ID"
// @Param        backup  body      ManualBackupRequest  false  "Optional note"
// @Success      201     {object}  BackupCreated
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /automations/{id}/backups [post]
func (h *Handler) CreateManualBackup(c *gin.Context) {
	var req ManualBackupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	ctx := logging.WithAutomationID(c.Request.Context(), c.Param("id"))
	a, err := h.automations.Get(ctx, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	payload, err := json.Marshal(a.Snapshot())
	if err != nil {
		h.HandleError(c, pkgerrors.Wrap(err, pkgerrors.ErrInternal))
		return
	}
	metadata := map[string]interface{}{"version": strconv.Itoa(a.Version)}
	if req.Note != "" {
		metadata["note"] = req.Note
	}

	id, err := h.backups.Create(ctx, a.ID, backup.TypeManual, payload, metadata)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Logger.InfowCtx(ctx, "Manual backup created", "backup_id", id)
	c.JSON(http.StatusCreated, BackupCreated{ID: id})
}

// GetBackup godoc
// @Summary      Get a backup
// @Tags         backups
// @Produce      json
// @Param        id   path      string  true  "Backup ID"
// @Success      200  {object}  backup.Backup
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /backups/{id} [get]
func (h *Handler) GetBackup(c *gin.Context) {
	b, err := h.backups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
