// Package security provides validation, sanitization, and limits for the scheduler.
package security

import (
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-scheduled-mail/pkg/core"
)

// Security limits and configuration
const (
	// MaxRecipientLength is the maximum length of a recipient address (RFC 5321 path limit)
	MaxRecipientLength = 320

	// MaxSubjectLength is the maximum length of a subject line (RFC 5322 line limit)
	MaxSubjectLength = 998

	// MaxBodySize is the maximum size in bytes for a message body (1MB)
	MaxBodySize = 1 << 20

	// MaxAttachments is the maximum number of attachments per item
	MaxAttachments = 20

	// MaxAttempts is the hard limit for dispatch attempts
	MaxAttempts = 100

	// MaxConcurrency is the hard limit for engine concurrency
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// ValidateRecipient rejects empty, oversized, or header-breaking recipients.
func ValidateRecipient(recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return core.Invalid("recipient", core.ErrRecipientRequired)
	}
	if len(recipient) > MaxRecipientLength {
		return core.Invalid("recipient", core.ErrRecipientTooLong)
	}
	if strings.ContainsAny(recipient, "\r\n\x00") {
		return core.Invalid("recipient", core.ErrRecipientInvalid)
	}
	return nil
}

// ValidateSubject rejects subjects that are too long or span lines.
func ValidateSubject(subject string) error {
	if len(subject) > MaxSubjectLength || strings.ContainsAny(subject, "\r\n") {
		return core.Invalid("subject", core.ErrSubjectTooLong)
	}
	return nil
}

// ValidateBody enforces the body size limit.
func ValidateBody(body string) error {
	if len(body) > MaxBodySize {
		return core.Invalid("body", core.ErrBodyTooLarge)
	}
	return nil
}

// ValidateAttachments checks the attachment count and that every reference is usable.
func ValidateAttachments(attachments []core.Attachment) error {
	if len(attachments) > MaxAttachments {
		return core.Invalid("attachments", core.ErrTooManyAttachments)
	}
	for _, a := range attachments {
		if strings.TrimSpace(a.URI) == "" || strings.ContainsRune(a.URI, 0) || a.Size < 0 {
			return core.Invalid("attachments", core.ErrInvalidAttachment)
		}
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampAttempts ensures the attempt budget is within [1, MaxAttempts]
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
