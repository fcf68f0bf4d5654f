package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"genrelay/internal/domain"
)

// apiErrorPattern matches the "API error <status>:" text produced by mapHTTPError.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// ClassifyError is the shared classifier behind every adapter's Classify.
// Wrapped domain sentinels win; then an HTTP status found in the text; then
// well-known network and provider phrases. Anything else is transient and
// marked Unclassified.
func ClassifyError(err error) domain.Classification {
	if err == nil {
		return domain.Classification{}
	}

	status := 0
	if m := apiErrorPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		status, _ = strconv.Atoi(m[1])
	}

	if c, ok := domain.ClassifySentinel(err); ok {
		c.StatusCode = status
		return c
	}
	if status != 0 {
		return classifyByStatus(status)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transient(domain.ErrTimeout, 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return transient(domain.ErrTimeout, 0)
		}
		return transient(domain.ErrTransport, 0)
	}
	return classifyByString(err.Error())
}

func transient(sentinel error, status int) domain.Classification {
	return domain.Classification{Class: domain.Transient, Sentinel: sentinel, StatusCode: status}
}

func fatal(sentinel error, status int) domain.Classification {
	return domain.Classification{Class: domain.Fatal, Sentinel: sentinel, StatusCode: status}
}

func unclassified(status int) domain.Classification {
	return domain.Classification{Class: domain.Transient, StatusCode: status, Unclassified: true}
}

func classifyByStatus(code int) domain.Classification {
	switch {
	case code == http.StatusTooManyRequests:
		return transient(domain.ErrRateLimit, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fatal(domain.ErrAuthInvalid, code)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return transient(domain.ErrTimeout, code)
	case code >= 500 && code < 600:
		return transient(domain.ErrServer, code)
	case code >= 400 && code < 500:
		return fatal(domain.ErrBadRequest, code)
	default:
		return unclassified(code)
	}
}

func classifyByString(msg string) domain.Classification {
	lower := strings.ToLower(msg)

	for _, p := range []string{"rate limit", "too many requests", "quota exceeded", "resource_exhausted", "overloaded"} {
		if strings.Contains(lower, p) {
			return transient(domain.ErrRateLimit, 0)
		}
	}
	for _, p := range []string{"invalid api key", "unauthorized", "permission denied", "invalid x-api-key"} {
		if strings.Contains(lower, p) {
			return fatal(domain.ErrAuthInvalid, 0)
		}
	}
	for _, p := range []string{"timeout", "deadline exceeded", "timed out"} {
		if strings.Contains(lower, p) {
			return transient(domain.ErrTimeout, 0)
		}
	}
	for _, p := range []string{"connection refused", "no such host", "connection reset", "broken pipe", "unexpected eof"} {
		if strings.Contains(lower, p) {
			return transient(domain.ErrTransport, 0)
		}
	}
	return unclassified(0)
}
