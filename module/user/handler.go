package user

import (
	"net/http"

	"RTChat/global"
	sec "RTChat/tools/security"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// HandlerLogin POST /login：给出身份换一张网关令牌。
// 账号口令校验在上游身份系统，这里只负责签发。
func HandlerLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	opts := sec.DefaultOptions(global.GetJwtSecret())
	token, expireAt, err := sec.Generate(opts, req.UserID, req.UserName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"expireAt": expireAt.Unix(),
		"userId":   req.UserID,
	})
}
