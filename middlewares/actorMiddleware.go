package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/models"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
	"github.com/gin-gonic/gin"
)

// ActorMiddleware resolves the session username into the actor projection the
// auth service keeps at "User:<username>" and stamps business/user scope onto
// the request context. This service does not own user rows; when the
// projection is missing the session is treated as stale.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		username, ok := utils.GetUsernameFromContext(ctx)
		if !ok || username == "" {
			// bearer-JWT callers carry no session; handlers decide what
			// they require from the context
			c.Next()
			return
		}

		var user models.SessionUser
		exists, err := config.GetRedisObject("User:"+username, &user)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if user.IsActive != nil && !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user is disabled"})
			c.Abort()
			return
		}

		ctx = utils.SetBusinessIdInContext(ctx, user.BusinessId)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetIsAdminInContext(ctx, user.Role == models.UserRoleAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
