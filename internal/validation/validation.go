// Package validation checks request fields before they reach the swap
// engines.
package validation

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize bounds request bodies.
const MaxRequestSize = 1 << 20

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress reports whether addr is 0x followed by 40 hex digits.
func IsValidEthAddress(addr string) bool {
	return has0x(addr) && len(addr) == 2+2*common.AddressLength && common.IsHexAddress(addr)
}

// IsValidBytes32 reports whether s is 0x followed by 64 hex digits.
func IsValidBytes32(s string) bool {
	if !has0x(s) || len(s) != 2+2*common.HashLength {
		return false
	}
	_, err := hexutil.Decode(s)
	return err == nil
}

func has0x(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects field errors in rule order.
type Errors []FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule checks one field and returns nil when it is acceptable.
type Rule func() *FieldError

// Validate runs every rule.
func Validate(rules ...Rule) Errors {
	var errs Errors
	for _, r := range rules {
		if fe := r(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Check runs the rules and, if any fail, writes a 400 validation_error
// response and reports false.
func Check(c *gin.Context, rules ...Rule) bool {
	errs := Validate(rules...)
	if len(errs) == 0 {
		return true
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
	return false
}

// The field rules below accept an empty value. Mandatory fields are
// enforced by binding tags on the request structs.

func ValidAddress(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsValidEthAddress(value) {
			return &FieldError{field, "must be a valid Ethereum address (0x...)"}
		}
		return nil
	}
}

func ValidBytes32(field, value string) Rule {
	return func() *FieldError {
		if value != "" && !IsValidBytes32(value) {
			return &FieldError{field, "must be 32 bytes of hex (0x + 64 hex chars)"}
		}
		return nil
	}
}

// ValidUint accepts decimal or 0x-prefixed hex that fits in 256 bits.
func ValidUint(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return nil
		}
		digits, base := value, 10
		if has0x(digits) {
			digits, base = digits[2:], 16
		}
		v, ok := new(big.Int).SetString(digits, base)
		if !ok || digits == "" || v.Sign() < 0 || v.BitLen() > 256 {
			return &FieldError{field, "must be an unsigned 256-bit integer"}
		}
		return nil
	}
}

func MaxLength(field, value string, max int) Rule {
	return func() *FieldError {
		if len(value) > max {
			return &FieldError{field, "exceeds maximum length"}
		}
		return nil
	}
}

func PositiveUnix(field string, value int64) Rule {
	return func() *FieldError {
		if value <= 0 {
			return &FieldError{field, "must be a positive unix timestamp"}
		}
		return nil
	}
}
