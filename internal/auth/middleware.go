package auth

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
)

// ContextKey for storing validated claims in the gin context
const ClaimsContextKey = "auth_claims"

// RequireAuth returns gin middleware that rejects requests without a valid
// bearer token
func RequireAuth(jm *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := jm.tracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		tokenString, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			logAuthFailure(c, "missing or malformed Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "Authentication required",
				Code:  models.ErrCodeUnauthorized,
			})
			return
		}

		claims, err := jm.ValidateToken(ctx, tokenString)
		if err != nil {
			span.RecordError(err)
			logAuthFailure(c, "token validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: "Invalid or expired token",
				Code:  models.ErrCodeUnauthorized,
			})
			return
		}

		span.SetAttributes(attribute.String("user.id", claims.UserID))
		c.Set(ClaimsContextKey, claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ClaimsFromContext retrieves the validated claims stored by RequireAuth
func ClaimsFromContext(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// extractBearerToken pulls the token out of an "Authorization: Bearer x" header
func extractBearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func logAuthFailure(c *gin.Context, reason string) {
	log.Printf(`{"time":"%s","level":"WARN","component":"auth","msg":"%s","path":"%s","remote_addr":"%s"}`,
		time.Now().UTC().Format(time.RFC3339),
		reason,
		c.Request.URL.Path,
		c.ClientIP(),
	)
}
