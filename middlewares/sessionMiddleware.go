package middlewares

import (
	"net/http"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/utils"
	"github.com/gin-gonic/gin"
)

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			// Fall back to validating the token itself when the session
			// store has no entry (e.g. redis flushed mid-session).
			parsed, jwtErr := utils.JwtValidate(token)
			if jwtErr != nil || !parsed.Valid {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
			if !ok {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			username = claims.Username
			ctx := utils.SetTokenInContext(c.Request.Context(), token)
			ctx = utils.SetUsernameInContext(ctx, username)
			ctx = utils.SetVenueIdInContext(ctx, claims.VenueId)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
