package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/theblackhat55/aria51a-sub006/internal/middleware"
	"github.com/theblackhat55/aria51a-sub006/internal/model"
	"github.com/theblackhat55/aria51a-sub006/internal/service"
	"github.com/theblackhat55/aria51a-sub006/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type SAMLHandler struct {
	samlService service.SAMLService
	userService service.UserService
}

func NewSAMLHandler(samlService service.SAMLService, userService service.UserService) *SAMLHandler {
	return &SAMLHandler{samlService: samlService, userService: userService}
}

func (h *SAMLHandler) RegisterRoutes(router *gin.RouterGroup) {
	// SSO endpoints the IdP and browser talk to. No session required.
	sso := router.Group("/api/saml")
	{
		sso.GET("/metadata", h.Metadata)
		sso.GET("/login", h.LoginRedirect)
		sso.POST("/acs", h.AssertionConsumer)
	}

	// Administration of the integration.
	admin := router.Group("/api/saml")
	admin.Use(middleware.RequirePermission("saml", "manage"))
	{
		admin.GET("/config", h.GetConfig)
		admin.PUT("/config", h.UpdateConfig)
		admin.GET("/group-mappings", h.ListGroupMappings)
		admin.POST("/group-mappings", h.UpsertGroupMapping)
		admin.DELETE("/group-mappings/:id", h.DeleteGroupMapping)
	}
}

// Metadata serves the SP metadata document for IdP registration
func (h *SAMLHandler) Metadata(c *gin.Context) {
	meta, err := h.samlService.Metadata(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, response.Error(http.StatusServiceUnavailable, err.Error()))
		return
	}
	c.Data(http.StatusOK, "application/samlmetadata+xml", meta)
}

// LoginRedirect starts SP-initiated SSO by redirecting to the IdP
func (h *SAMLHandler) LoginRedirect(c *gin.Context) {
	url, err := h.samlService.LoginURL(c.Request.Context(), c.Query("relay_state"))
	if err != nil {
		if errors.Is(err, service.ErrSAMLDisabled) {
			c.JSON(http.StatusServiceUnavailable, response.Error(http.StatusServiceUnavailable, err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.Redirect(http.StatusFound, url)
}

// AssertionConsumer is the ACS endpoint: it runs the federation pipeline on
// the posted SAMLResponse and establishes the local session
func (h *SAMLHandler) AssertionConsumer(c *gin.Context) {
	rawResponse := c.PostForm("SAMLResponse")
	if rawResponse == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "SAMLResponse is missing"))
		return
	}
	relayState := c.PostForm("RelayState")

	result, err := h.samlService.ProcessAssertion(c.Request.Context(), rawResponse, relayState)
	if err != nil {
		status := samlErrorStatus(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}

	token, err := h.issueSessionToken(result.User)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to establish session"))
		return
	}

	middleware.SetTokenCookies(c, token, "")
	c.Redirect(http.StatusFound, result.RedirectTo)
}

// issueSessionToken mints the access JWT for a federated login. SSO sessions
// have no refresh token; re-authentication goes back through the IdP.
func (h *SAMLHandler) issueSessionToken(user *model.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(middleware.GetJWTSecret())
}

func samlErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSAMLDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// GetConfig returns the SAML configuration
func (h *SAMLHandler) GetConfig(c *gin.Context) {
	cfg, err := h.samlService.GetConfig(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, cfg))
}

// UpdateConfig replaces the SAML configuration
func (h *SAMLHandler) UpdateConfig(c *gin.Context) {
	var req service.UpdateSAMLConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	cfg, err := h.samlService.UpdateConfig(c.Request.Context(), req, middleware.ActorFromContext(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, cfg))
}

// ListGroupMappings returns the group -> role sync table
func (h *SAMLHandler) ListGroupMappings(c *gin.Context) {
	mappings, err := h.samlService.ListGroupMappings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, mappings))
}

// UpsertGroupMapping creates or updates a group -> role mapping
func (h *SAMLHandler) UpsertGroupMapping(c *gin.Context) {
	var req service.GroupMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	mapping, err := h.samlService.UpsertGroupMapping(c.Request.Context(), req, middleware.ActorFromContext(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, mapping))
}

// DeleteGroupMapping removes a group -> role mapping
func (h *SAMLHandler) DeleteGroupMapping(c *gin.Context) {
	if err := h.samlService.DeleteGroupMapping(c.Request.Context(), c.Param("id"), middleware.ActorFromContext(c)); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Mapping deleted"}))
}
