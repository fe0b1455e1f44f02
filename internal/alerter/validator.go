package alerter

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/rs/zerolog"
)

// Rejection reasons
const (
	ReasonEmptyOrWrongType = "EMPTY_OR_WRONG_TYPE"
	ReasonDuplicate        = "DUPLICATE"
	ReasonRateLimited      = "RATE_LIMITED"
)

// ValidationError is returned for a rejected alert
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "alert rejected: " + e.Reason
	}
	return fmt.Sprintf("alert rejected: %s: %s", e.Reason, e.Detail)
}

// Validator checks format, duplicates and the hourly cap. Check and
// append happen under one lock so concurrent identical submissions
// cannot both pass.
type Validator struct {
	mu        sync.Mutex
	history   *History
	maxLength int
	limiter   *RateLimiter
	logger    zerolog.Logger
}

// NewValidator creates a new validator
func NewValidator(cfg config.AlertBehavior, logger zerolog.Logger) *Validator {
	v := &Validator{
		history:   NewHistory(cfg.DedupWindowSize),
		maxLength: cfg.MaxLength,
		logger:    logger.With().Str("component", "validator").Logger(),
	}
	if v.maxLength <= 0 {
		v.maxLength = config.DefaultMaxLength
	}
	if cfg.MaxAlertsPerHour > 0 {
		v.limiter = NewRateLimiter(logger, cfg.MaxAlertsPerHour, time.Hour)
	}
	return v
}

// Validate accepts text into the dedup window or returns a *ValidationError.
// A rejection leaves the window untouched.
func (v *Validator) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: ReasonEmptyOrWrongType, Detail: "empty text"}
	}
	if !utf8.ValidString(text) {
		return &ValidationError{Reason: ReasonEmptyOrWrongType, Detail: "text is not valid UTF-8"}
	}
	if n := utf8.RuneCountInString(text); n > v.maxLength {
		return &ValidationError{Reason: ReasonEmptyOrWrongType, Detail: fmt.Sprintf("length %d exceeds %d", n, v.maxLength)}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.history.Contains(text) {
		return &ValidationError{Reason: ReasonDuplicate}
	}
	if v.limiter != nil && !v.limiter.Allow() {
		return &ValidationError{Reason: ReasonRateLimited}
	}

	if v.history.Add(text) {
		v.logger.Debug().Int("window", v.history.Cap()).Msg("oldest alert evicted from dedup window")
	}
	if v.limiter != nil {
		v.limiter.Record()
	}
	return nil
}

// Forget removes accepted text so it can be submitted again. Used when an
// alert fails after validation.
func (v *Validator) Forget(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history.Remove(text)
}

// WindowLen returns the number of texts in the dedup window
func (v *Validator) WindowLen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.history.Len()
}
