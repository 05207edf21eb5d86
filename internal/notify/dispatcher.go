// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/metrics"
	"github.com/tomtom215/letterbox/internal/models"
)

// Delivery outcomes.
const (
	OutcomeSent        = "sent"
	OutcomeDryRun      = "dry_run"
	OutcomeFailed      = "failed"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeNoChannel   = "no_channel"
)

// Result is the outcome for one recipient.
type Result struct {
	Recipient Recipient
	Outcome   string
	Err       error
}

// Dispatcher is the notify module. It fans out a translated message for
// every filled or emptied transition.
type Dispatcher struct {
	cfg         config.NotifyConfig
	defaultLang language.Tag
	logger      zerolog.Logger
	channels    map[string]Channel
	limiters    map[string]*rate.Limiter
	parallelism int
}

// NewDispatcher returns a dispatcher over channels.
func NewDispatcher(logger *zerolog.Logger, cfg config.NotifyConfig, defaultLang language.Tag, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		cfg:         cfg,
		defaultLang: defaultLang,
		logger:      logger.With().Str("component", "notify").Logger(),
		channels:    make(map[string]Channel, len(channels)),
		limiters:    make(map[string]*rate.Limiter, len(channels)),
		parallelism: 4,
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
		burst = cfg.RatePerMinute
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
		d.limiters[ch.Name()] = rate.NewLimiter(limit, burst)
	}
	return d
}

// NewChannels returns the e-mail and Signal channels of cfg.
func NewChannels(cfg config.NotifyConfig) []Channel {
	return []Channel{
		NewEmailChannel(cfg.Email, cfg.Timeout),
		NewSignalChannel(cfg.Signal),
	}
}

// Name implements hooks.Module.
func (d *Dispatcher) Name() string { return "notify" }

// StoreData implements hooks.DataStorer. Delivery failures are logged and
// never fail the ingestion.
func (d *Dispatcher) StoreData(ctx context.Context, u *models.Update) error {
	if !u.Changed() {
		return nil
	}
	d.Notify(ctx, u)
	return nil
}

// Notify sends the transition of u to every recipient.
func (d *Dispatcher) Notify(ctx context.Context, u *models.Update) []Result {
	recipients, skipped, err := LoadRecipients(d.cfg.RecipientsFile)
	if err != nil {
		d.logger.Error().Err(err).Str("file", d.cfg.RecipientsFile).Msg("Failed to load recipients")
		return nil
	}
	for _, line := range skipped {
		d.logger.Warn().Str("file", d.cfg.RecipientsFile).Int("line", line).Msg("Skipping malformed recipient entry")
	}
	if len(recipients) == 0 {
		return nil
	}

	results := make([]Result, len(recipients))
	jobs := make(chan int, len(recipients))
	for i := range recipients {
		jobs <- i
	}
	close(jobs)

	workers := d.parallelism
	if workers > len(recipients) {
		workers = len(recipients)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.deliver(ctx, u, recipients[i])
			}
		}()
	}
	wg.Wait()

	sent := 0
	for _, r := range results {
		if r.Outcome == OutcomeSent {
			sent++
		}
	}
	d.logger.Info().
		Str("device_id", u.DeviceID).
		Str("state", string(u.Snapshot.State)).
		Int("recipients", len(results)).
		Int("sent", sent).
		Msg("Notification dispatch completed")
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, u *models.Update, r Recipient) Result {
	res := Result{Recipient: r}
	logger := d.logger.With().
		Str("device_id", u.DeviceID).
		Str("channel", r.Channel).
		Str("recipient", logging.SanitizeRecipient(r.Address)).
		Int("line", r.Line).
		Logger()
	defer func() { metrics.RecordNotification(r.Channel, res.Outcome) }()

	ch, ok := d.channels[r.Channel]
	if !ok {
		res.Outcome = OutcomeNoChannel
		logger.Warn().Msg("Recipient uses an unknown channel")
		return res
	}
	if err := ch.ValidateAddress(r.Address); err != nil {
		res.Outcome, res.Err = OutcomeInvalid, err
		logger.Warn().Err(err).Msg("Skipping invalid recipient")
		return res
	}

	msg := d.message(u, r.Lang)
	if !ch.Enabled() {
		res.Outcome = OutcomeDryRun
		logger.Info().Str("subject", msg.Subject).Msg("Channel disabled, would send notification")
		return res
	}
	if !d.limiters[r.Channel].Allow() {
		res.Outcome = OutcomeRateLimited
		logger.Warn().Msg("Notification rate limit reached")
		return res
	}

	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := ch.Send(sendCtx, r.Address, msg); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		ev := logger.Error().Err(err).Dur("duration", time.Since(start))
		var se *SendError
		if errors.As(err, &se) {
			ev = ev.Str("error_code", se.Code).Bool("transient", se.Transient())
		}
		ev.Msg("Notification delivery failed")
		return res
	}
	res.Outcome = OutcomeSent
	logger.Debug().Dur("duration", time.Since(start)).Msg("Notification delivered")
	return res
}

// message renders the notification of u in lang, or the default language.
func (d *Dispatcher) message(u *models.Update, lang language.Tag) *Message {
	if lang == language.Und {
		lang = d.defaultLang
	}
	p := i18n.NewPrinter(lang)
	state := u.Snapshot.State
	at := u.Received.Local().Format("2006-01-02 15:04")

	key := i18n.MsgBoxEmptied
	if state == models.BoxFilled {
		key = i18n.MsgBoxFilled
	}
	return &Message{
		Subject:  p.T(i18n.MsgSubject, u.DeviceID, p.T(string(state))),
		Body:     p.T(key, u.DeviceID, at),
		DeviceID: u.DeviceID,
		State:    state,
		Time:     u.Received,
	}
}

// Close releases channel connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, ch := range d.channels {
		if c, ok := ch.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
