// Package alerter validates alerts and drives them through encryption,
// dispatch and audit.
package alerter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pisafe/pisafe/internal/metrics"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

// TestAlertText is the payload of the operator test alert
const TestAlertText = "TEST-EAS-ALERT"

// Decoder turns a raw payload into canonical text
type Decoder interface {
	Decode(raw string) (string, error)
}

// Cipher seals and opens alert text
type Cipher interface {
	Encrypt(plaintext string) (types.EncryptedAlert, error)
	Decrypt(alert types.EncryptedAlert) (string, error)
}

// Dispatcher fans an alert out to every channel
type Dispatcher interface {
	Dispatch(ctx context.Context, alertID, text, area string) types.DispatchReport
}

// AuditSink records dispatched alerts
type AuditSink interface {
	Record(ctx context.Context, entry types.AuditEntry) error
}

// AuditReader returns recent audit entries, newest first
type AuditReader interface {
	Recent(n int) []types.AuditEntry
}

// CryptoError is returned when an alert cannot be sealed
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("encrypt alert: %v", e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// TrailEntry is a decrypted audit entry
type TrailEntry struct {
	types.AuditEntry
	Error string `json:"error,omitempty"`
}

// Pipeline is the single entry point for sensor and external alerts
type Pipeline struct {
	decoder   Decoder
	validator *Validator
	cipher    Cipher
	fanout    Dispatcher
	audit     AuditSink
	trail     AuditReader
	logger    zerolog.Logger
}

// NewPipeline creates a new alert pipeline
func NewPipeline(decoder Decoder, validator *Validator, cipher Cipher, fanout Dispatcher, audit AuditSink, trail AuditReader, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		decoder:   decoder,
		validator: validator,
		cipher:    cipher,
		fanout:    fanout,
		audit:     audit,
		trail:     trail,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// SubmitText submits an external alert
func (p *Pipeline) SubmitText(ctx context.Context, raw, area string) types.PipelineResult {
	return p.Submit(ctx, types.AlertEvent{
		ID:         uuid.NewString(),
		RawPayload: raw,
		Source:     types.SourceExternal,
		Area:       area,
		CreatedAt:  time.Now(),
	})
}

// Submit validates, encrypts, dispatches and audits one alert. A
// rejection happens before any side effect; once validated, dispatch is
// attempted on every channel even if the caller goes away.
func (p *Pipeline) Submit(ctx context.Context, ev types.AlertEvent) (res types.PipelineResult) {
	start := time.Now()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = start
	}

	log := p.logger.With().Str("alert_id", ev.ID).Str("source", string(ev.Source)).Logger()
	res = types.PipelineResult{AlertID: ev.ID}
	p.transition(&res, types.StateReceived, log)

	defer func() {
		metrics.AlertsTotal.WithLabelValues(string(ev.Source), string(res.State)).Inc()
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	p.transition(&res, types.StateValidating, log)
	text := ev.DecodedText
	if text == "" {
		decoded, err := p.decoder.Decode(ev.RawPayload)
		if err != nil {
			return p.reject(res, &ValidationError{Reason: ReasonEmptyOrWrongType, Detail: err.Error()}, log)
		}
		text = decoded
	}
	res.DecodedText = text

	if err := p.validator.Validate(text); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			ve = &ValidationError{Reason: ReasonEmptyOrWrongType, Detail: err.Error()}
		}
		return p.reject(res, ve, log)
	}
	p.transition(&res, types.StateValidated, log)

	p.transition(&res, types.StateEncrypting, log)
	sealed, err := p.cipher.Encrypt(text)
	if err != nil {
		p.validator.Forget(text)
		res.Err = &CryptoError{Err: err}
		p.transition(&res, types.StateFailed, log)
		log.Error().Err(err).Msg("Alert encryption failed")
		return res
	}

	ctx = context.WithoutCancel(ctx)
	p.transition(&res, types.StateDispatching, log)
	report := p.fanout.Dispatch(ctx, ev.ID, text, ev.Area)
	res.Report = &report

	entry := types.AuditEntry{
		AlertID:   ev.ID,
		Encrypted: sealed,
		Source:    ev.Source,
		Area:      ev.Area,
		Timestamp: time.Now().UTC(),
		Report:    report,
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		res.Err = fmt.Errorf("audit: %w", err)
		log.Error().Err(err).Msg("Failed to record audit entry")
	}
	p.transition(&res, types.StateLogged, log)

	log.Info().
		Str("area", ev.Area).
		Strs("failed_channels", report.Failed()).
		Int("channels", len(report.Channels)).
		Dur("duration", time.Since(start)).
		Msg("Alert dispatched")

	return res
}

// AuditTrail returns up to n recent entries with their text decrypted.
// Entries that cannot be decrypted are returned with Error set.
func (p *Pipeline) AuditTrail(ctx context.Context, n int) []TrailEntry {
	if p.trail == nil {
		return nil
	}
	recent := p.trail.Recent(n)
	out := make([]TrailEntry, 0, len(recent))
	for _, e := range recent {
		if ctx.Err() != nil {
			break
		}
		te := TrailEntry{AuditEntry: e}
		text, err := p.cipher.Decrypt(e.Encrypted)
		if err != nil {
			te.Error = err.Error()
			p.logger.Warn().Err(err).Str("alert_id", e.AlertID).Msg("Audit entry could not be decrypted")
		} else {
			te.DecodedText = text
		}
		out = append(out, te)
	}
	return out
}

// WindowLen reports the dedup window occupancy
func (p *Pipeline) WindowLen() int {
	return p.validator.WindowLen()
}

func (p *Pipeline) reject(res types.PipelineResult, ve *ValidationError, log zerolog.Logger) types.PipelineResult {
	res.Reason = ve.Reason
	res.Err = ve
	p.transition(&res, types.StateRejected, log)
	metrics.AlertsRejected.WithLabelValues(ve.Reason).Inc()
	log.Warn().Str("reason", ve.Reason).Str("detail", ve.Detail).Msg("Alert rejected")
	return res
}

func (p *Pipeline) transition(res *types.PipelineResult, state types.AlertState, log zerolog.Logger) {
	res.State = state
	log.Debug().Str("state", string(state)).Msg("Alert state")
}
