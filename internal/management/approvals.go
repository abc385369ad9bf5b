package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homeflow/internal/approval"
	"homeflow/internal/constants"
)

type DecisionRequest struct {
	Notes string `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type EmergencyStopRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type HaltRequest struct {
	TriggerType string `json:"trigger_type"`
	Reason      string `json:"reason" binding:"required"`
}

type RecoveryRequest struct {
	Status  string   `json:"status" binding:"required"`
	Actions []string `json:"actions"`
}

type EmergencyStopResponse struct {
	Workflow *approval.Workflow         `json:"workflow"`
	Log      *approval.EmergencyStopLog `json:"log"`
}

func (h *Handler) registerApprovalRoutes(v1 *gin.RouterGroup) {
	workflows := v1.Group("/workflows")
	{
		workflows.GET("", h.ListWorkflows)
		workflows.POST("", h.RequestChange)
		workflows.GET("/:id", h.GetWorkflow)
		workflows.POST("/:id/approve", h.ApproveWorkflow)
		workflows.POST("/:id/reject", h.RejectWorkflow)
		workflows.POST("/:id/cancel", h.CancelWorkflow)
		workflows.POST("/:id/emergency-stop", h.EmergencyStopWorkflow)
	}

	stops := v1.Group("/emergency-stops")
	{
		stops.GET("", h.ListEmergencyStops)
		stops.POST("", h.HaltAll)
		stops.GET("/:id", h.GetEmergencyStop)
		stops.PUT("/:id/recovery", h.UpdateRecovery)
	}
}

// ListWorkflows godoc
// @Summary      List approval workflows
// @Tags         workflows
// @Produce      json
// @Param        status         query     string  false  "pending, approved, rejected or cancelled"
// @Param        automation_id  query     string  false  "Automation ID"
// @Param        limit          query     int     false  "Page size" default(100)
// @Param        offset         query     int     false  "Page offset"
// @Success      200            {array}   approval.Workflow
// @Failure      400            {object}  errors.ErrorResponse
// @Router       /workflows [get]
func (h *Handler) ListWorkflows(c *gin.Context) {
	f := approval.Filter{
		AutomationID: c.Query("automation_id"),
		Limit:        parseLimit(c.Query("limit")),
		Offset:       parseOffset(c.Query("offset")),
	}
	if s := c.Query("status"); s != "" {
		status, err := approval.ParseStatus(s)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		f.Status = status
	}

	list, err := h.approvals.List(c.Request.Context(), f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if list == nil {
		list = []approval.Workflow{}
	}
	c.JSON(http.StatusOK, list)
}

// RequestChange godoc
// @Summary      Request a change to an automation
// @Description  Changes whose confidence exceeds the significance threshold open a workflow; others are applied at once.
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        change  body      approval.ChangeRequest  true  "Proposed change"
// @Success      201     {object}  approval.RequestResult  "Workflow opened"
// @Success      200     {object}  approval.RequestResult  "Applied without approval"
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Router       /workflows [post]
func (h *Handler) RequestChange(c *gin.Context) {
	var req approval.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	res, err := h.approvals.RequestChange(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := http.StatusOK
	if res.Workflow != nil {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// GetWorkflow godoc
// @Summary      Get an approval workflow
// @Tags         workflows
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  approval.Workflow
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /workflows/{id} [get]
func (h *Handler) GetWorkflow(c *gin.Context) {
	w, err := h.approvals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// ApproveWorkflow godoc
// @Summary      Approve a pending workflow and apply its change
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id        path      string           true   "Workflow ID"
// @Param        decision  body      DecisionRequest  false  "Notes"
// @Success      200       {object}  approval.Workflow
// @Failure      409       {object}  errors.ErrorResponse
// @Router       /workflows/{id}/approve [post]
func (h *Handler) ApproveWorkflow(c *gin.Context) {
	var req DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	w, err := h.approvals.Approve(c.Request.Context(), c.Param("id"), req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// RejectWorkflow godoc
// @Summary      Reject a pending workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id      path      string         true  "Workflow ID"
// @Param        reject  body      RejectRequest  true  "Reason"
// @Success      200     {object}  approval.Workflow
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /workflows/{id}/reject [post]
func (h *Handler) RejectWorkflow(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	w, err := h.approvals.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// CancelWorkflow godoc
// @Summary      Cancel a pending workflow
// @Tags         workflows
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  approval.Workflow
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /workflows/{id}/cancel [post]
func (h *Handler) CancelWorkflow(c *gin.Context) {
	w, err := h.approvals.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// EmergencyStopWorkflow godoc
// @Summary      Emergency-stop a workflow and pause its automation
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Param        id    path      string                true  "Workflow ID"
// @Param        stop  body      EmergencyStopRequest  true  "Reason"
// @Success      200   {object}  EmergencyStopResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /workflows/{id}/emergency-stop [post]
func (h *Handler) EmergencyStopWorkflow(c *gin.Context) {
	var req EmergencyStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	w, log, err := h.approvals.TriggerEmergencyStop(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, EmergencyStopResponse{Workflow: w, Log: log})
}

// ListEmergencyStops godoc
// @Summary      List emergency stop logs
// @Tags         emergency-stops
// @Produce      json
// @Param        limit  query     int  false  "Maximum entries" default(100)
// @Success      200    {array}   approval.EmergencyStopLog
// @Router       /emergency-stops [get]
func (h *Handler) ListEmergencyStops(c *gin.Context) {
	logs, err := h.approvals.ListStopLogs(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if logs == nil {
		logs = []approval.EmergencyStopLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// HaltAll godoc
// @Summary      Pause every active automation
// @Tags         emergency-stops
// @Accept       json
// @Produce      json
// @Param        halt  body      HaltRequest  true  "Reason and trigger"
// @Success      201   {object}  approval.EmergencyStopLog
// @Failure      400   {object}  errors.ErrorResponse
// @Router       /emergency-stops [post]
func (h *Handler) HaltAll(c *gin.Context) {
	var req HaltRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	trigger := approval.TriggerManual
	if req.TriggerType != "" {
		t, err := approval.ParseTriggerType(req.TriggerType)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		trigger = t
	}

	log, err := h.approvals.HaltAll(c.Request.Context(), trigger, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

// GetEmergencyStop godoc
// @Summary      Get an emergency stop log
// @Tags         emergency-stops
// @Produce      json
// @Param        id   path      string  true  "Log ID"
// @Success      200  {object}  approval.EmergencyStopLog
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /emergency-stops/{id} [get]
func (h *Handler) GetEmergencyStop(c *gin.Context) {
	log, err := h.approvals.GetStopLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}

// UpdateRecovery godoc
// @Summary      Record recovery progress after an emergency stop
// @Tags         emergency-stops
// @Accept       json
// @Produce      json
// @Param        id        path      string           true  "Log ID"
// @Param        recovery  body      RecoveryRequest  true  "Recovery status and actions"
// @Success      200       {object}  approval.EmergencyStopLog
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      409       {object}  errors.ErrorResponse
// @Router       /emergency-stops/{id}/recovery [put]
func (h *Handler) UpdateRecovery(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	status, err := approval.ParseRecoveryStatus(req.Status)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	if len(req.Actions) > constants.MaxLimit {
		req.Actions = req.Actions[:constants.MaxLimit]
	}

	log, err := h.approvals.UpdateRecovery(c.Request.Context(), c.Param("id"), status, req.Actions)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}
