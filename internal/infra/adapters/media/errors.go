package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"media-gen-orchestrator/internal/domain"
)

// classifyStatus reports whether a failed provider call may succeed when
// repeated. status 0 means the request never got an HTTP answer.
func classifyStatus(status int, code, message string) bool {
	if isQuota(status, code, message) {
		return false
	}
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

func isQuota(status int, code, message string) bool {
	if status == http.StatusPaymentRequired {
		return true
	}
	c, m := strings.ToLower(code), strings.ToLower(message)
	if c == "insufficient_quota" || strings.Contains(m, "insufficient_quota") || strings.Contains(m, "billing_hard_limit") {
		return true
	}
	return c == "resource_exhausted" && strings.Contains(m, "quota")
}

func submitFailure(status int, code, message string, err error) *domain.SubmissionError {
	if message == "" && status > 0 {
		message = http.StatusText(status)
	}
	return &domain.SubmissionError{
		Retryable:  classifyStatus(status, code, message),
		Message:    message,
		StatusCode: status,
		Err:        err,
	}
}

func pollFailure(status int, code, message string, err error) *domain.PollError {
	if message == "" && status > 0 {
		message = http.StatusText(status)
	}
	return &domain.PollError{
		Retryable:  classifyStatus(status, code, message),
		Message:    message,
		StatusCode: status,
		Err:        err,
	}
}

// transportMessage keeps cancellation distinguishable in job diagnostics.
func transportMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "provider call timed out"
	case errors.Is(err, context.Canceled):
		return "provider call canceled"
	}
	return "transport error"
}

// undecodable reports whether an SDK error came from decoding a 2xx answer
// rather than from the transport. Both SDKs wrap the encoding/json error;
// the message checks cover wrappers that flatten it with %v.
func undecodable(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "error parsing response json") ||
		strings.Contains(msg, "error unmarshalling response")
}
