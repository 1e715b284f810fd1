package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 按错误码比较, 使 WithMessage 包装后的错误仍可被 errors.Is 识别
func (e Errno) Is(target error) bool {
	var t Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMessage 保留错误码, 替换提示信息
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrNotFound         = Errno{Code: 10005, Message: "Resource not found"}
)

// Payment Errors (20000+)
var (
	ErrInvalidAddress     = Errno{Code: 20101, Message: "Invalid address for network"}
	ErrInvalidAmount      = Errno{Code: 20102, Message: "Invalid amount"}
	ErrUnsupportedNetwork = Errno{Code: 20103, Message: "Unsupported network"}
	ErrTokenNotSupported  = Errno{Code: 20104, Message: "Token contract not supported on this network"}
	ErrIntentNotFound     = Errno{Code: 20201, Message: "Payment intent not found"}
)
