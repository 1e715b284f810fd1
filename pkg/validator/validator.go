package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mubaid99/payments/internal/chain"
)

// Init 在 gin 的校验器上注册自定义规则
//   - network: 支持的网络名 (大小写不敏感)
//   - amount:  非负十进制数字字符串
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		Register(v)
	}
}

// Register 注册自定义规则, 测试里可直接用独立的 validator 实例
func Register(v *validator.Validate) {
	_ = v.RegisterValidation("network", func(fl validator.FieldLevel) bool {
		_, ok := chain.Lookup(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return true
		}
		d, err := decimal.NewFromString(s)
		return err == nil && !d.IsNegative()
	})
}

// GetErrorMsg 把校验错误翻译成可读的提示
func GetErrorMsg(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			switch e.Tag() {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s is required", field))
			case "network":
				errMsgs = append(errMsgs, fmt.Sprintf("%s is not a supported network", field))
			case "amount":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be a non-negative decimal", field))
			case "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be at most %s", field, e.Param()))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be one of [%s]", field, e.Param()))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s failed on %s", field, e.Tag()))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "invalid request parameters"
}
