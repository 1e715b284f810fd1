package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mubaid99/payments/pkg/errno"
)

// Response 统一的 JSON 返回结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error 按错误码选择 HTTP 状态, body 仍是统一结构
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	c.JSON(StatusOf(code), Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}

// StatusOf 错误码 -> HTTP 状态
func StatusOf(code int) int {
	switch code {
	case errno.OK.Code:
		return http.StatusOK
	case errno.ErrBind.Code,
		errno.ErrInvalidAddress.Code,
		errno.ErrInvalidAmount.Code,
		errno.ErrUnsupportedNetwork.Code,
		errno.ErrTokenNotSupported.Code:
		return http.StatusBadRequest
	case errno.ErrNotFound.Code, errno.ErrIntentNotFound.Code:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
