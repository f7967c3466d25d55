package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/pkg/logger"
)

// 错误码定义，与 apperror 保持一致
const (
	CodeSuccess          = 0
	CodeParamError       = apperror.CodeValidation
	CodeResourceNotFound = apperror.CodeNotFound
	CodeConflict         = apperror.CodeConflict
	CodeInvalidState     = apperror.CodeInvalidState
	CodeInsufficientData = apperror.CodeInsufficientData
	CodeServerError      = apperror.CodeInternal
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeResourceNotFound: "资源不存在",
	CodeConflict:         "资源冲突",
	CodeInvalidState:     "当前状态不允许该操作",
	CodeInsufficientData: "数据不足",
	CodeServerError:      "服务器内部错误",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// FromError 按 AppError 的错误码响应，其它错误按服务器错误处理且不暴露细节
func FromError(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	if code == CodeServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		ServerError(c, "")
		return
	}
	Error(c, code, apperror.MessageOf(err))
}
