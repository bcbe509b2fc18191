package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		name     string
		reason   string
		expected ErrorCode
	}{
		{"ssl handshake", "SSL handshake failed", ErrCodeSSL},
		{"certificate", "x509: certificate signed by unknown authority", ErrCodeSSL},
		{"timeout", "context deadline exceeded", ErrCodeTimeout},
		{"timed out", "request timed out after 30s", ErrCodeTimeout},
		{"dns", "lookup example.invalid: no such host", ErrCodeDNSResolution},
		{"connection refused", "dial tcp 127.0.0.1:80: connection refused", ErrCodeNetwork},
		{"connection reset", "read: connection reset by peer", ErrCodeNetwork},
		{"forbidden", "server returned 403 Forbidden", ErrCodeAuthorization},
		{"validation", "invalid url: missing scheme", ErrCodeValidation},
		{"credits", "insufficient credits to perform this request", ErrCodeInsufficientCredits},
		{"rate limit", "rate limit exceeded, please retry", ErrCodeRateLimit},
		{"quota", "RESOURCE_EXHAUSTED: quota exceeded for model", ErrCodeRateLimit},
		{"zdr", "zero data retention policy forbids storing content", ErrCodeZDRViolation},
		{"unsupported", "unsupported file type: application/octet-stream", ErrCodeUnsupportedFile},
		{"antibot", "pdf is protected by anti-bot verification", ErrCodePDFAntiBot},
		{"no engines", "no engines left to try", ErrCodeNoEnginesLeft},
		{"site", "upstream returned 502 Bad Gateway", ErrCodeSite},
		{"cost limit", "cost limit exceeded for this run", ErrCodeCostLimitExceeded},
		{"llm refusal", "the model refused to answer this request", ErrCodeLLMRefusal},
		{"unknown", "something nobody has seen before", ErrCodeUnknown},
		{"empty", "", ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyReason(tt.reason))
		})
	}
}

// Rule order matters: "connection refused" carries the word "refused" but must
// classify as a network failure, not an LLM refusal.
func TestClassifyReasonOrdering(t *testing.T) {
	assert.Equal(t, ErrCodeNetwork, ClassifyReason("connect: connection refused"))
	assert.Equal(t, ErrCodeLLMRefusal, ClassifyReason("assistant refused to summarize the page"))
	// Billing phrasing wins over the generic limit wording.
	assert.Equal(t, ErrCodeInsufficientCredits, ClassifyReason("insufficient credits: rate limit would not apply"))
}

func TestClassifyReasonDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, ErrCodeTimeout, ClassifyReason("Request TIMED OUT"))
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ErrCodeAuthorization, ClassifyStatus(401))
	assert.Equal(t, ErrCodeAuthorization, ClassifyStatus(403))
	assert.Equal(t, ErrCodeSite, ClassifyStatus(404))
	assert.Equal(t, ErrCodeSite, ClassifyStatus(410))
	assert.Equal(t, ErrCodeTimeout, ClassifyStatus(408))
	assert.Equal(t, ErrCodeRateLimit, ClassifyStatus(429))
	assert.Equal(t, ErrCodeSite, ClassifyStatus(500))
	assert.Equal(t, ErrCodeUnknown, ClassifyStatus(200))
	assert.Equal(t, ErrCodeUnknown, ClassifyStatus(302))
}

func TestRecordFromError(t *testing.T) {
	rec := RecordFromError(errors.New("dial tcp: i/o timeout"))
	require.NotNil(t, rec)
	assert.Equal(t, ErrCodeTimeout, rec.Code)

	// An existing record survives wrapping without reclassification.
	orig := &ErrorRecord{Code: ErrCodeZDRViolation, Message: "store denied"}
	wrapped := fmt.Errorf("worker: %w", orig)
	assert.Equal(t, ErrCodeZDRViolation, RecordFromError(wrapped).Code)

	assert.Nil(t, RecordFromError(nil))
}

func TestErrorTaxonomy(t *testing.T) {
	transient := []ErrorCode{ErrCodeTimeout, ErrCodeNetwork, ErrCodeDNSResolution, ErrCodeRateLimit, ErrCodeUnknown}
	for _, c := range transient {
		assert.True(t, c.IsTransient(), "%s should be transient", c)
		assert.False(t, c.IsRunFatal(), "%s should not be run fatal", c)
	}

	terminal := []ErrorCode{ErrCodeValidation, ErrCodeUnsupportedFile, ErrCodeSite, ErrCodeNoEnginesLeft}
	for _, c := range terminal {
		assert.True(t, c.IsTerminalForURL(), "%s should be terminal", c)
		assert.False(t, c.IsTransient(), "%s should not be transient", c)
	}

	fatal := []ErrorCode{ErrCodeInsufficientCredits, ErrCodeZDRViolation, ErrCodeCostLimitExceeded}
	for _, c := range fatal {
		assert.True(t, c.IsRunFatal(), "%s should be run fatal", c)
		assert.False(t, c.IsTransient(), "%s should not be transient", c)
	}
}

func TestErrorRecordError(t *testing.T) {
	rec := &ErrorRecord{Code: ErrCodeSite, Message: "page gone", Details: "status 410"}
	assert.Equal(t, "SITE_ERROR: page gone (status 410)", rec.Error())

	bare := &ErrorRecord{Code: ErrCodeUnknown, Message: "boom"}
	assert.Equal(t, "UNKNOWN_ERROR: boom", bare.Error())
}
