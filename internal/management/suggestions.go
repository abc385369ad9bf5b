package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homeflow/internal/suggestion"
)

func (h *Handler) registerSuggestionRoutes(v1 *gin.RouterGroup) {
	v1.POST("/automations/:id/suggestions", h.GenerateSuggestion)

	suggestions := v1.Group("/suggestions")
	{
		suggestions.GET("", h.ListSuggestions)
		suggestions.GET("/:id", h.GetSuggestion)
		suggestions.POST("/:id/approve", h.ApproveSuggestion)
		suggestions.POST("/:id/reject", h.RejectSuggestion)
		suggestions.POST("/:id/implemented", h.MarkSuggestionImplemented)
	}
}

// GenerateSuggestion godoc
// @Summary      Generate an optimization suggestion for an automation
// @Tags         suggestions
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true   "Automation ID"
// @Param        context  body      suggestion.GenerateRequest  false  "Usage patterns and preferences"
// @Success      201      {object}  suggestion.Suggestion
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      502      {object}  errors.ErrorResponse
// @Router       /automations/{id}/suggestions [post]
func (h *Handler) GenerateSuggestion(c *gin.Context) {
	var req suggestion.GenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	sg, err := h.suggestions.Generate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sg)
}

// ListSuggestions godoc
// @Summary      List suggestions, highest confidence first
// @Tags         suggestions
// @Produce      json
// @Param        automation_id  query     string  false  "Automation ID"
// @Param        status         query     string  false  "pending, approved, rejected or implemented"
// @Param        limit          query     int     false  "Page size" default(100)
// @Param        offset         query     int     false  "Page offset"
// @Success      200            {array}   suggestion.Suggestion
// @Router       /suggestions [get]
func (h *Handler) ListSuggestions(c *gin.Context) {
	f := suggestion.Filter{
		AutomationID: c.Query("automation_id"),
		Limit:        parseLimit(c.Query("limit")),
		Offset:       parseOffset(c.Query("offset")),
	}
	if s := c.Query("status"); s != "" {
		status, err := suggestion.ParseStatus(s)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		f.Status = status
	}

	list, err := h.suggestions.List(c.Request.Context(), f)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if list == nil {
		list = []suggestion.Suggestion{}
	}
	c.JSON(http.StatusOK, list)
}

// GetSuggestion godoc
// @Summary      Get a suggestion
// @Tags         suggestions
// @Produce      json
// @Param        id   path      string  true  "Suggestion ID"
// @Success      200  {object}  suggestion.Suggestion
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /suggestions/{id} [get]
func (h *Handler) GetSuggestion(c *gin.Context) {
	sg, err := h.suggestions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sg)
}

type reviewFunc func(c *gin.Context, id, notes string) (*suggestion.Suggestion, error)

func (h *Handler) review(c *gin.Context, fn reviewFunc) {
	var req suggestion.ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}

	sg, err := fn(c, c.Param("id"), req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sg)
}

// ApproveSuggestion godoc
// @Summary      Approve a pending suggestion
// @Tags         suggestions
// @Accept       json
// @Produce      json
// @Param        id      path      string                    true   "Suggestion ID"
// @Param        review  body      suggestion.ReviewRequest  false  "Notes"
// @Success      200     {object}  suggestion.Suggestion
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /suggestions/{id}/approve [post]
func (h *Handler) ApproveSuggestion(c *gin.Context) {
	h.review(c, func(c *gin.Context, id, notes string) (*suggestion.Suggestion, error) {
		return h.suggestions.Approve(c.Request.Context(), id, notes)
	})
}

// RejectSuggestion godoc
// @Summary      Reject a pending suggestion
// @Tags         suggestions
// @Accept       json
// @Produce      json
// @Param        id      path      string                    true   "Suggestion ID"
// @Param        review  body      suggestion.ReviewRequest  false  "Notes"
// @Success      200     {object}  suggestion.Suggestion
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /suggestions/{id}/reject [post]
func (h *Handler) RejectSuggestion(c *gin.Context) {
	h.review(c, func(c *gin.Context, id, notes string) (*suggestion.Suggestion, error) {
		return h.suggestions.Reject(c.Request.Context(), id, notes)
	})
}

// MarkSuggestionImplemented godoc
// @Summary      Mark a suggestion as implemented
// @Tags         suggestions
// @Accept       json
// @Produce      json
// @Param        id      path      string                    true   "Suggestion ID"
// @Param        review  body      suggestion.ReviewRequest  false  "Notes"
// @Success      200     {object}  suggestion.Suggestion
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /suggestions/{id}/implemented [post]
func (h *Handler) MarkSuggestionImplemented(c *gin.Context) {
	h.review(c, func(c *gin.Context, id, notes string) (*suggestion.Suggestion, error) {
		return h.suggestions.MarkImplemented(c.Request.Context(), id, notes)
	})
}
