package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/internal/pkg/response"
)

// paramID 解析路径中的 ID，失败时已写入响应
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
