package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err).WithMessage("%s", err.Error())))
}

type Handler struct {
	BaseHandler
	batches     BatchStore
	automations AutomationService
	approvals   ApprovalService
	suggestions SuggestionService
	backups     BackupService
}

type HandlerOption func(*Handler)

func WithBatches(b BatchStore) HandlerOption { return func(h *Handler) { h.batches = b } }

func WithAutomations(a AutomationService) HandlerOption {
	return func(h *Handler) { h.automations = a }
}

func WithApprovals(a ApprovalService) HandlerOption { return func(h *Handler) { h.approvals = a } }

func WithSuggestions(s SuggestionService) HandlerOption {
	return func(h *Handler) { h.suggestions = s }
}

func WithBackups(b BackupService) HandlerOption { return func(h *Handler) { h.backups = b } }

func NewHandler(service Service, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts every configured route group under /api/v1.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	rules := v1.Group("/rules/filter")
	{
		rules.GET("", h.ListRules)
		rules.POST("", h.CreateRule)
		rules.GET("/:id", h.GetRule)
		rules.PUT("/:id", h.UpdateRule)
		rules.DELETE("/:id", h.DeleteRule)
		rules.GET("/:id/versions", h.GetRuleVersions)
		rules.GET("/:id/audit", h.GetRuleAuditLogs)
	}

	connections := v1.Group("/connections")
	{
		connections.GET("", h.ListConnections)
		connections.POST("", h.CreateConnection)
	}

	v1.GET("/audit/logs", h.GetAuditLogs)

	if h.batches != nil {
		h.registerBatchRoutes(v1)
	}
	if h.automations != nil {
		h.registerAutomationRoutes(v1)
	}
	if h.approvals != nil {
		h.registerApprovalRoutes(v1)
	}
	if h.suggestions != nil {
		h.registerSuggestionRoutes(v1)
	}
}

// ListRules godoc
// @Summary      List filter rules
// @Description  List filter rules, optionally for one owner
// @Tags         filter-rules
// @Produce      json
// @Param        owner_id  query     string  false  "Owner ID"
// @Param        limit     query     int     false  "Page size" default(100)
// @Param        offset    query     int     false  "Page offset"
// @Success      200       {array}   FilterRule
// @Failure      500       {object}  errors.ErrorResponse
// @Router       /rules/filter [get]
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.Service.ListFilterRules(c.Request.Context(), RuleListFilter{
		OwnerID: c.Query("owner_id"),
		Limit:   parseLimit(c.Query("limit")),
		Offset:  parseOffset(c.Query("offset")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create a filter rule
// @Tags         filter-rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateFilterRuleRequest  true  "Filter rule"
// @Success      201   {object}  FilterRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules/filter [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateFilterRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.CreateFilterRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get a filter rule
// @Tags         filter-rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  FilterRule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/filter/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetFilterRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a filter rule
// @Tags         filter-rules
// @Accept       json
// @Produce      json
// @Param        id    path      string                   true  "Rule ID"
// @Param        rule  body      UpdateFilterRuleRequest  true  "Fields to change"
// @Success      200   {object}  FilterRule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /rules/filter/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateFilterRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rule, err := h.Service.UpdateFilterRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a filter rule
// @Tags         filter-rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204  "No Content"
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/filter/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteFilterRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRuleVersions godoc
// @Summary      Get rule version history
// @Tags         filter-rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   RuleVersion
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /rules/filter/{id}/versions [get]
func (h *Handler) GetRuleVersions(c *gin.Context) {
	versions, err := h.Service.GetRuleVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

// GetRuleAuditLogs godoc
// @Summary      Get audit logs for a rule
// @Tags         filter-rules
// @Produce      json
// @Param        id     path      string  true   "Rule ID"
// @Param        limit  query     int     false  "Maximum number of logs (1-1000)" default(100)
// @Success      200    {array}   AuditLog
// @Failure      500    {object}  errors.ErrorResponse
// @Router       /rules/filter/{id}/audit [get]
func (h *Handler) GetRuleAuditLogs(c *gin.Context) {
	id := c.Param("id")
	logs, err := h.Service.GetAuditLogs(c.Request.Context(), &id, RuleTypeFilter, parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAuditLogs godoc
// @Summary      Get audit logs
// @Tags         audit
// @Produce      json
// @Param        rule_id    query     string  false  "Filter by rule ID"
// @Param        rule_type  query     string  false  "Filter by rule type"
// @Param        limit      query     int     false  "Maximum number of logs (1-1000)" default(100)
// @Success      200        {array}   AuditLog
// @Failure      500        {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	var ruleID *string
	if id := c.Query("rule_id"); id != "" {
		ruleID = &id
	}

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), ruleID, c.Query("rule_type"), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// ListConnections godoc
// @Summary      List connections
// @Tags         connections
// @Produce      json
// @Param        owner_id  query     string  false  "Owner ID"
// @Success      200       {array}   Connection
// @Router       /connections [get]
func (h *Handler) ListConnections(c *gin.Context) {
	conns, err := h.Service.ListConnections(c.Request.Context(), c.Query("owner_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

// CreateConnection godoc
// @Summary      Register a connection
// @Tags         connections
// @Accept       json
// @Produce      json
// @Param        connection  body      CreateConnectionRequest  true  "Connection"
// @Success      201         {object}  Connection
// @Failure      409         {object}  errors.ErrorResponse
// @Router       /connections [post]
func (h *Handler) CreateConnection(c *gin.Context) {
	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	conn, err := h.Service.CreateConnection(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
