// Package security provides validation, sanitization, and limits for the scheduler.
//
// This package includes:
//   - Input validation for recipients, subjects, bodies and attachment references
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on attempts and concurrency
//   - Security-related constants defining maximum sizes and counts
//
// Most users should import the root package github.com/jdziat/simple-scheduled-mail
// which re-exports these functions.
package security
