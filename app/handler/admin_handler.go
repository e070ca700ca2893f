package handler

import (
	"errors"
	"net/http"
	"strconv"

	"genrouter/internal/model"
	"genrouter/internal/service"
	"genrouter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles provider and account administration
type AdminHandler struct {
	adminService *service.AdminService
	resetService *service.ResetService
}

// NewAdminHandler creates admin handler
func NewAdminHandler(adminService *service.AdminService, resetService *service.ResetService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		resetService: resetService,
	}
}

// respondServiceError maps service errors onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
	case errors.Is(err, service.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.ErrorCtx(c.Request.Context(), "admin request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// AddProvider registers a provider
// @Summary Register provider
// @Description Register a generation provider with its competency map
// @Tags admin
// @Accept json
// @Produce json
// @Param request body model.AddProviderRequest true "Provider"
// @Success 200 {object} model.ProviderView
// @Router /v1/admin/providers [post]
func (h *AdminHandler) AddProvider(c *gin.Context) {
	var req model.AddProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	view, err := h.adminService.AddProvider(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListProviders lists providers
// @Summary List providers
// @Description List all providers with their accounts
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/admin/providers [get]
func (h *AdminHandler) ListProviders(c *gin.Context) {
	views, err := h.adminService.ListProviders(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": views,
		"total":     len(views),
	})
}

// ListFallbackProviders lists substitutes for a task type
// @Summary List fallback providers
// @Description List active providers competent for a task type, best first, optionally excluding one
// @Tags admin
// @Produce json
// @Param task_type query string true "Task type"
// @Param exclude query string false "Provider ID to leave out"
// @Success 200 {object} map[string]interface{}
// @Router /v1/admin/providers/fallback [get]
func (h *AdminHandler) ListFallbackProviders(c *gin.Context) {
	taskType := c.Query("task_type")
	if taskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type required"})
		return
	}

	views, err := h.adminService.ListFallbackProviders(c.Request.Context(), taskType, c.Query("exclude"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": views,
		"total":     len(views),
	})
}

// GetProvider gets one provider
// @Summary Get provider
// @Description Get a provider with its accounts
// @Tags admin
// @Produce json
// @Param provider_id path string true "Provider ID"
// @Success 200 {object} model.ProviderView
// @Router /v1/admin/providers/{provider_id} [get]
func (h *AdminHandler) GetProvider(c *gin.Context) {
	view, err := h.adminService.GetProvider(c.Request.Context(), c.Param("provider_id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// SetProviderStatus toggles a provider
// @Summary Set provider status
// @Description Move a provider in or out of the routing pool
// @Tags admin
// @Accept json
// @Param provider_id path string true "Provider ID"
// @Param request body model.StatusRequest true "Status"
// @Success 200 {object} map[string]string
// @Router /v1/admin/providers/{provider_id}/status [put]
func (h *AdminHandler) SetProviderStatus(c *gin.Context) {
	var req model.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.adminService.SetProviderStatus(c.Request.Context(), c.Param("provider_id"), req.Status); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "status updated"})
}

// DeleteProvider removes a provider
// @Summary Delete provider
// @Description Delete a provider that has no accounts left
// @Tags admin
// @Param provider_id path string true "Provider ID"
// @Success 200 {object} map[string]string
// @Router /v1/admin/providers/{provider_id} [delete]
func (h *AdminHandler) DeleteProvider(c *gin.Context) {
	if err := h.adminService.DeleteProvider(c.Request.Context(), c.Param("provider_id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "provider deleted"})
}

// AddAccount creates an account
// @Summary Add account
// @Description Create a metered account under a provider; the api key is sealed at rest
// @Tags admin
// @Accept json
// @Produce json
// @Param request body model.AddAccountRequest true "Account"
// @Success 200 {object} model.AccountView
// @Router /v1/admin/accounts [post]
func (h *AdminHandler) AddAccount(c *gin.Context) {
	var req model.AddAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	view, err := h.adminService.AddAccount(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// UpdateAccount updates account metadata
// @Summary Update account
// @Description Update label, token limit or reset date; an empty reset_date clears the schedule
// @Tags admin
// @Accept json
// @Produce json
// @Param account_id path string true "Account ID"
// @Param request body model.UpdateAccountRequest true "Fields to update"
// @Success 200 {object} model.AccountView
// @Router /v1/admin/accounts/{account_id} [put]
func (h *AdminHandler) UpdateAccount(c *gin.Context) {
	var req model.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	view, err := h.adminService.UpdateAccount(c.Request.Context(), c.Param("account_id"), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// SetAccountStatus toggles an account
// @Summary Set account status
// @Description Move an account in or out of the reservation pool
// @Tags admin
// @Accept json
// @Param account_id path string true "Account ID"
// @Param request body model.StatusRequest true "Status"
// @Success 200 {object} map[string]string
// @Router /v1/admin/accounts/{account_id}/status [put]
func (h *AdminHandler) SetAccountStatus(c *gin.Context) {
	var req model.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.adminService.SetAccountStatus(c.Request.Context(), c.Param("account_id"), req.Status); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "status updated"})
}

// AdjustUsage records out-of-band usage
// @Summary Adjust account usage
// @Description Add tokens to an account ledger; negative values release tokens
// @Tags admin
// @Accept json
// @Param account_id path string true "Account ID"
// @Param request body model.UsageRequest true "Token delta"
// @Success 200 {object} map[string]string
// @Router /v1/admin/accounts/{account_id}/usage [post]
func (h *AdminHandler) AdjustUsage(c *gin.Context) {
	var req model.UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.adminService.AdjustUsage(c.Request.Context(), c.Param("account_id"), req.Tokens); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "usage adjusted"})
}

// ResetAccount zeroes an account ledger now
// @Summary Reset account usage
// @Description Zero an account's used tokens immediately, independent of its reset schedule
// @Tags admin
// @Param account_id path string true "Account ID"
// @Success 200 {object} map[string]string
// @Router /v1/admin/accounts/{account_id}/reset [post]
func (h *AdminHandler) ResetAccount(c *gin.Context) {
	if err := h.adminService.ResetAccount(c.Request.Context(), c.Param("account_id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "usage reset"})
}

// DeleteAccount removes an account
// @Summary Delete account
// @Description Delete a provider account
// @Tags admin
// @Param account_id path string true "Account ID"
// @Success 200 {object} map[string]string
// @Router /v1/admin/accounts/{account_id} [delete]
func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	if err := h.adminService.DeleteAccount(c.Request.Context(), c.Param("account_id")); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// RoutePreview previews routing for a task type
// @Summary Preview routing
// @Description Show the candidates a task of this type would be offered to, in routing order, without reserving capacity
// @Tags admin
// @Produce json
// @Param task_type query string true "Task type"
// @Param content_length query int false "Content length for the token estimate"
// @Success 200 {object} model.RoutePreview
// @Router /v1/admin/route-preview [get]
func (h *AdminHandler) RoutePreview(c *gin.Context) {
	taskType := c.Query("task_type")
	if taskType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_type required"})
		return
	}

	contentLength := 0
	if param := c.Query("content_length"); param != "" {
		if parsed, err := strconv.Atoi(param); err == nil {
			contentLength = parsed
		}
	}

	preview, err := h.adminService.RoutePreview(c.Request.Context(), taskType, contentLength)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

// TestDispatch probes one account of a provider
// @Summary Test dispatch
// @Description Send a connectivity probe through a specific account, bypassing routing and the token ledger
// @Tags admin
// @Accept json
// @Produce json
// @Param provider_id path string true "Provider ID"
// @Param request body model.TestDispatchRequest true "Probe"
// @Success 200 {object} model.TestDispatchResult
// @Router /v1/admin/providers/{provider_id}/test [post]
func (h *AdminHandler) TestDispatch(c *gin.Context) {
	var req model.TestDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.adminService.TestDispatch(c.Request.Context(), c.Param("provider_id"), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// TriggerReset runs a ledger reset sweep now
// @Summary Trigger ledger reset
// @Description Run the due-ledger reset sweep immediately instead of waiting for the schedule
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/admin/tokens/reset [post]
func (h *AdminHandler) TriggerReset(c *gin.Context) {
	count, err := h.resetService.ResetDueLedgers(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "manual reset sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts_reset": count})
}
