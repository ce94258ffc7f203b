// Package validation provides input validation middleware for the scoring API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxIDLength is the maximum length for entity and event identifiers
const MaxIDLength = 128

var (
	// idRegex validates entity/event identifiers: URL-safe, no whitespace
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)
	// currencyRegex validates ISO 4217 style currency codes
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks that an identifier is URL-safe and sanely sized
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidCurrency checks for a three-letter uppercase currency code
func IsValidCurrency(code string) bool {
	return currencyRegex.MatchString(code)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// IDParamMiddleware rejects requests whose :id or :entityId URL params are
// not valid identifiers. No-op when the param is absent.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range []string{"id", "entityId"} {
			if v := c.Param(name); v != "" && !IsValidID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": "identifier must be 1-128 URL-safe characters",
				})
				return
			}
		}
		c.Next()
	}
}
