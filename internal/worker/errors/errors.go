// Package workererrors turns dispatch and encoding failures into messages a
// cashier-facing UI can show without leaking internals.
package workererrors

import (
	"fmt"
	"strings"

	"github.com/adcondev/printer-proxy/internal/dispatch"
)

// reasonMessages maps dispatcher rejection reasons to friendly messages.
var reasonMessages = map[dispatch.Reason]string{
	dispatch.ReasonNotFound:      "PRINTER: Not registered - check the printer id",
	dispatch.ReasonOffline:       "PRINTER: Offline - check power and network cable",
	dispatch.ReasonEncoding:      "DOCUMENT: Invalid print data",
	dispatch.ReasonPoolExhausted: "PRINTER: Busy - all connections in use, retry shortly",
	dispatch.ReasonTransport:     "PRINTER: Connection dropped mid-print - job may be incomplete",
}

// ExtractUserFriendlyError creates a clean error message for the UI
func ExtractUserFriendlyError(err error) string {
	if reason, ok := dispatch.ReasonOf(err); ok {
		if msg, ok := reasonMessages[reason]; ok {
			return msg
		}
	}

	errStr := err.Error()

	// Payload errors come from the parsers with stable substrings
	errorMappings := []struct {
		pattern string
		message string
	}{
		{"invalid JSON job", "JSON: Invalid document structure"},
		{"invalid base64", "JSON: Invalid base64 payload"},
		{"unknown op type", "DOCUMENT: Unknown operation type"},
		{"neither base64 nor ops", "DOCUMENT: Job contains no operations"},
		{"bitmap size mismatch", "IMAGE: Bitmap does not match width x height"},
		{"exceeds protocol limits", "IMAGE: Exceeds maximum raster size"},
		{"invalid geometry", "IMAGE: Width and height must be positive"},
	}
	for _, mapping := range errorMappings {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(mapping.pattern)) {
			return mapping.message
		}
	}

	return fmt.Sprintf("ERROR: %s", cleanErrorMessage(errStr))
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"parsing print job: ",
		"encoding document: ",
		"dispatching job: ",
	}
	result := errStr
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}
