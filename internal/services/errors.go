package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCache marks unreadable or corrupt cache state. Treated as a cache
	// miss by callers, never fatal.
	ErrCache = errors.New("cache error")
	// ErrRender marks engine unavailability, subprocess failure, capture
	// loss, or a render wall-clock timeout. Fails the job only.
	ErrRender = errors.New("render error")
	// ErrExtraction marks feature extraction failures, including worker
	// crashes and job timeouts.
	ErrExtraction = errors.New("extraction error")
	// ErrPrediction marks rating predictor failures.
	ErrPrediction = errors.New("prediction error")
	// ErrPersistence marks output write or append failures.
	ErrPersistence = errors.New("persistence error")
	// ErrConfiguration marks invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks malformed inputs or artifacts.
	ErrValidation = errors.New("validation error")
	// ErrTimeout marks an exceeded wall-clock cap.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures worth retrying.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes phase context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, phase, operation, message string, err error) error {
	detail := buildDetail(phase, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsJobFatal reports whether an error should fail the current job without
// aborting sibling jobs in other lanes.
func IsJobFatal(err error) bool {
	switch {
	case errors.Is(err, ErrRender),
		errors.Is(err, ErrExtraction),
		errors.Is(err, ErrPrediction),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

// IsPipelineFatal reports whether an error should abort the whole pipeline.
// Persistent writer failure is the main example; per-job failures are not.
func IsPipelineFatal(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConfiguration)
}

func buildDetail(phase, operation, message string) string {
	parts := make([]string, 0, 3)
	if phase = strings.TrimSpace(phase); phase != "" {
		parts = append(parts, phase)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
