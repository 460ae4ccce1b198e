package middlewares

import (
	"net/http"
	"strings"

	"github.com/carebook/hospital_backend/models"
	"github.com/carebook/hospital_backend/utils"
	"github.com/gin-gonic/gin"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, auth)
		ctx = utils.SetOperatorIdInContext(ctx, claim.ID)
		ctx = utils.SetOperatorNameInContext(ctx, claim.Name)
		ctx = utils.SetRoleInContext(ctx, claim.Role)
		ctx = utils.SetIsAdminInContext(ctx, claim.Role == string(models.OperatorRoleAdmin))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireOperator rejects requests that did not present a valid token.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetOperatorIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "operator authentication required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin gates balance corrections to platform admins.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.IsAdminFromContext(c.Request.Context()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin privilege required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
