package tool

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"skillagent/internal/domain"
)

// failureClass groups tool backend errors by what the model can do about them.
type failureClass int

const (
	failurePermanent failureClass = iota
	failureTransient
	failureArguments
	failureCredentials
)

// transientText matches backend messages that carry no typed error.
var transientText = []string{
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"try again",
}

// classifyFailure inspects err's chain. Argument errors win over everything
// else so the model is never told to repeat a malformed call.
func classifyFailure(err error) failureClass {
	switch {
	case err == nil:
		return failurePermanent
	case errors.Is(err, domain.ErrInvalidArguments):
		return failureArguments
	case errors.Is(err, domain.ErrAuthInvalid):
		return failureCredentials
	case errors.Is(err, domain.ErrToolTimeout),
		errors.Is(err, domain.ErrRateLimit),
		errors.Is(err, domain.ErrProviderError),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		isNetTimeout(err):
		return failureTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsNotFound) {
		return failureTransient
	}

	lower := strings.ToLower(err.Error())
	for _, s := range transientText {
		if strings.Contains(lower, s) {
			return failureTransient
		}
	}
	return failurePermanent
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// hint is appended to the error text returned to the model.
func (c failureClass) hint() string {
	switch c {
	case failureTransient:
		return " (transient error, may succeed on retry)"
	case failureCredentials:
		return " (credentials rejected, retrying will not help)"
	}
	return ""
}

// failureKind maps err to the ErrorKind of its result. Network timeouts count
// as execution timeouts even without the ErrToolTimeout sentinel.
func failureKind(err error) domain.ErrorKind {
	if isNetTimeout(err) {
		return domain.KindExecutionTimeout
	}
	return domain.ErrorKindOf(err)
}
