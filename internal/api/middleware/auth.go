package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tracelens/tracelens/internal/apperr"
	"github.com/tracelens/tracelens/internal/domain/tenant"
)

// Gin context keys set by the tenant gate.
const (
	ContextTenantID = "tenantID"
	ContextOpenMode = "openMode"
)

// HeaderTenantID carries the tenant on every viewer API request.
const HeaderTenantID = "X-Tenant-Id"

// TenantAuth gates viewer API requests. The tenant header is structurally
// required before any credential check: a request without it is malformed
// even when no tenants are configured. In open mode (empty registry) any
// tenant id is accepted without a credential.
func TenantAuth(registry *tenant.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenantID == "" {
			abortWith(c, apperr.New(apperr.CodeBadRequest, "missing X-Tenant-Id header"))
			return
		}

		if !registry.IsConfigured() {
			c.Set(ContextTenantID, tenantID)
			c.Set(ContextOpenMode, true)
			c.Next()
			return
		}

		if !registry.HasTenant(tenantID) {
			abortWith(c, apperr.New(apperr.CodeUnauthorized, "unknown tenant"))
			return
		}

		credential, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWith(c, apperr.New(apperr.CodeUnauthorized, "missing or malformed Authorization header"))
			return
		}
		if !registry.ResolveViewer(tenantID, credential) {
			abortWith(c, apperr.New(apperr.CodeUnauthorized, "invalid viewer credential"))
			return
		}

		c.Set(ContextTenantID, tenantID)
		c.Set(ContextOpenMode, false)
		c.Next()
	}
}

// TenantID returns the tenant the gate resolved for this request.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantID)
}

// bearerToken extracts the credential from an "Authorization: Bearer x"
// header. The scheme comparison is case-insensitive per RFC 7235.
func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func abortWith(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err.Code), gin.H{
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	})
}
