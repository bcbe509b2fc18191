package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the canonical classification for a scrape or run failure.
// Codes are stable machine-readable strings consumed by retry, billing and
// status logic, so the set is closed and values never change spelling.
type ErrorCode string

const (
	ErrCodeSSL                 ErrorCode = "SSL_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT_ERROR"
	ErrCodeDNSResolution       ErrorCode = "DNS_RESOLUTION_ERROR"
	ErrCodeNetwork             ErrorCode = "NETWORK_ERROR"
	ErrCodeAuthorization       ErrorCode = "AUTHORIZATION_ERROR"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS_ERROR"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodeZDRViolation        ErrorCode = "ZDR_VIOLATION_ERROR"
	ErrCodeUnsupportedFile     ErrorCode = "UNSUPPORTED_FILE_ERROR"
	ErrCodePDFAntiBot          ErrorCode = "PDFANTIBOT_ERROR"
	ErrCodeNoEnginesLeft       ErrorCode = "NO_ENGINES_LEFT_ERROR"
	ErrCodeSite                ErrorCode = "SITE_ERROR"
	ErrCodeCostLimitExceeded   ErrorCode = "COST_LIMIT_EXCEEDED_ERROR"
	ErrCodeLLMRefusal          ErrorCode = "LLMREFUSAL_ERROR"
	ErrCodeUnknown             ErrorCode = "UNKNOWN_ERROR"
)

// ErrorRecord carries a classified failure with a job through the queue.
// The code is stored as structured data at classification time because the
// queue transport serializes jobs to JSON and cannot preserve Go error types
// across a requeue or restart boundary.
type ErrorRecord struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error implements the error interface so records can travel as plain errors.
func (e *ErrorRecord) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewErrorRecord classifies a raw failure reason and wraps it in a record.
func NewErrorRecord(reason string) *ErrorRecord {
	return &ErrorRecord{
		Code:    ClassifyReason(reason),
		Message: reason,
	}
}

// RecordFromError converts any error into an ErrorRecord, preserving an
// existing record unchanged so a code assigned upstream is never reclassified.
func RecordFromError(err error) *ErrorRecord {
	if err == nil {
		return nil
	}
	var rec *ErrorRecord
	if errors.As(err, &rec) {
		return rec
	}
	return NewErrorRecord(err.Error())
}

// classificationRule maps any of its phrases to one canonical code.
type classificationRule struct {
	phrases []string
	code    ErrorCode
}

// classificationTable is ordered; the first matching rule wins. Ordering is
// load-bearing: "connection refused" must resolve before the LLM refusal
// phrases, and billing phrases before the generic rate-limit ones.
var classificationTable = []classificationRule{
	{[]string{"connection refused", "econnrefused"}, ErrCodeNetwork},
	{[]string{"insufficient credits", "payment required", "out of credits"}, ErrCodeInsufficientCredits},
	{[]string{"zero data retention", "zdr"}, ErrCodeZDRViolation},
	{[]string{"cost limit", "credit limit exceeded"}, ErrCodeCostLimitExceeded},
	{[]string{"rate limit", "too many requests", "resource_exhausted", "quota exceeded", "429"}, ErrCodeRateLimit},
	{[]string{"ssl", "tls", "certificate"}, ErrCodeSSL},
	{[]string{"timeout", "timed out", "deadline exceeded"}, ErrCodeTimeout},
	{[]string{"dns", "no such host", "name resolution"}, ErrCodeDNSResolution},
	{[]string{"connection reset", "econnreset", "socket hang up", "broken pipe", "network", "unexpected eof"}, ErrCodeNetwork},
	{[]string{"unauthorized", "forbidden", "authentication", "401", "403"}, ErrCodeAuthorization},
	{[]string{"unsupported file", "unsupported content type", "unsupported mime"}, ErrCodeUnsupportedFile},
	{[]string{"anti-bot", "antibot"}, ErrCodePDFAntiBot},
	{[]string{"no engines left"}, ErrCodeNoEnginesLeft},
	{[]string{"invalid url", "url must", "validation", "unprocessable"}, ErrCodeValidation},
	{[]string{"refused to", "cannot assist", "can't assist", "content policy", "refusal"}, ErrCodeLLMRefusal},
	{[]string{"internal server error", "bad gateway", "service unavailable", "not found", "site error"}, ErrCodeSite},
}

// ClassifyReason maps a raw failure reason to a canonical code. The match is
// case-insensitive substring against the ordered table; anything unmatched is
// UNKNOWN_ERROR.
func ClassifyReason(reason string) ErrorCode {
	lowered := strings.ToLower(reason)
	for _, rule := range classificationTable {
		for _, phrase := range rule.phrases {
			if strings.Contains(lowered, phrase) {
				return rule.code
			}
		}
	}
	return ErrCodeUnknown
}

// ClassifyStatus maps a definitive HTTP status to a code, or returns
// ErrCodeUnknown when the status alone does not decide the classification.
func ClassifyStatus(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return ErrCodeAuthorization
	case status == 404 || status == 410:
		return ErrCodeSite
	case status == 408:
		return ErrCodeTimeout
	case status == 429:
		return ErrCodeRateLimit
	case status >= 500:
		return ErrCodeSite
	default:
		return ErrCodeUnknown
	}
}

// IsTransient reports whether the failure is worth retrying with backoff.
// Unknown failures count as transient so the bounded retry budget, not the
// classifier, decides when to give up on causes we cannot name.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case ErrCodeTimeout, ErrCodeNetwork, ErrCodeDNSResolution, ErrCodeRateLimit, ErrCodeUnknown:
		return true
	}
	return false
}

// IsTerminalForURL reports whether the failure is permanent for this URL.
// Terminal failures are recorded on the job and the crawl continues.
func (c ErrorCode) IsTerminalForURL() bool {
	switch c {
	case ErrCodeValidation, ErrCodeUnsupportedFile, ErrCodeSite, ErrCodeAuthorization,
		ErrCodeSSL, ErrCodePDFAntiBot, ErrCodeNoEnginesLeft, ErrCodeLLMRefusal:
		return true
	}
	return false
}

// IsRunFatal reports whether the failure aborts the whole crawl or research
// run rather than just the current URL.
func (c ErrorCode) IsRunFatal() bool {
	switch c {
	case ErrCodeInsufficientCredits, ErrCodeZDRViolation, ErrCodeCostLimitExceeded:
		return true
	}
	return false
}
