package handler

import (
	"net/http"

	"github.com/theblackhat55/aria51a-sub006/internal/middleware"
	"github.com/theblackhat55/aria51a-sub006/internal/service"
	"github.com/theblackhat55/aria51a-sub006/pkg/pagination"
	"github.com/theblackhat55/aria51a-sub006/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/api/audit", middleware.RequirePermission("audit", "read"), h.GetAuditLogs)
}

// GetAuditLogs returns the paginated audit trail
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	params := pagination.Parse(c)
	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, logs, params.Page, params.Limit, total))
}
