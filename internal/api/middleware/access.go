package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/response"
)

const AccessKey = "access"

// AccessChecker 查询用户是否持有有效订阅
type AccessChecker interface {
	Access(userID int64) (*dto.AccessResponse, error)
}

// RequireAccess 订阅访问控制中间件，没有有效订阅的用户直接拒绝
func RequireAccess(checker AccessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		access, err := checker.Access(userID)
		if err != nil {
			response.ServerError(c, "访问权限检查失败")
			c.Abort()
			return
		}

		if !access.HasAccess {
			response.NoSubscriptionError(c, "")
			c.Abort()
			return
		}

		c.Set(AccessKey, access)
		c.Next()
	}
}

// GetAccess 从上下文获取 RequireAccess 写入的访问信息
func GetAccess(c *gin.Context) (*dto.AccessResponse, bool) {
	v, exists := c.Get(AccessKey)
	if !exists {
		return nil, false
	}
	access, ok := v.(*dto.AccessResponse)
	return access, ok
}
