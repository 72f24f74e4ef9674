// Package delivery sends workbooks by e-mail. The Engine walks an ordered
// list of ports, retrying each with exponential backoff, and reports
// failure as a value so a batch of sends can carry on.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite/sheet-dispatch/internal/pkg/logger"
	"github.com/ignite/sheet-dispatch/internal/pkg/retry"
	"golang.org/x/time/rate"
)

var (
	ErrNoRecipients      = errors.New("no recipients")
	ErrAttachmentMissing = errors.New("attachment not found")
	ErrNoPorts           = errors.New("no SMTP ports configured")
	ErrDeliveryFailed    = errors.New("delivery failed on every port")
)

// Config configures an Engine.
type Config struct {
	Host     string
	From     string
	FromName string
	// Ports overrides CandidatePorts(Host) when non-empty.
	Ports      []int
	MaxRetries int
	// RatePerSecond caps send attempts across the engine; 0 disables.
	RatePerSecond float64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.policy.Sleep = sleep }
}

// WithClock overrides the time used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Outcome is the result of one Send.
type Outcome struct {
	OK       bool
	Err      error
	Attempts int
	// Port is the port that accepted the message.
	Port int
}

// Engine sends messages with one attachment. It is safe for concurrent use.
type Engine struct {
	transport Transport
	from      string
	fromName  string
	ports     []int
	policy    retry.Policy
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewEngine builds an engine. The candidate port list is fixed here.
func NewEngine(t Transport, cfg Config, opts ...Option) *Engine {
	ports := cfg.Ports
	if len(ports) == 0 {
		ports = CandidatePorts(cfg.Host)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	e := &Engine{
		transport: t,
		from:      cfg.From,
		fromName:  cfg.FromName,
		ports:     append([]int(nil), ports...),
		policy:    retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: time.Second},
		limiter:   limiter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	logger.Info("delivery engine ready", "host", cfg.Host, "ports", fmt.Sprint(e.ports), "max_retries", cfg.MaxRetries)
	return e
}

// Ports returns the ports tried, in order.
func (e *Engine) Ports() []int { return append([]int(nil), e.ports...) }

// SendWithAttachment reports whether the message was accepted on any port.
func (e *Engine) SendWithAttachment(ctx context.Context, recipients []string, subject, body, attachmentPath string) bool {
	return e.Send(ctx, recipients, subject, body, attachmentPath).OK
}

// Send delivers one message with the file at attachmentPath attached. For
// each port it makes up to MaxRetries+1 attempts, waiting 2^attempt
// seconds between attempts, and stops at the first success. A missing
// attachment fails at once without touching the network.
func (e *Engine) Send(ctx context.Context, recipients []string, subject, body, attachmentPath string) Outcome {
	to := cleanRecipients(recipients)
	if len(to) == 0 {
		logger.Warn("mail skipped: no recipients", "subject", subject)
		return Outcome{Err: ErrNoRecipients}
	}
	rcpts := strings.Join(to, ", ")

	data, err := os.ReadFile(attachmentPath)
	if err != nil {
		logger.Error("mail skipped: attachment not readable", "recipients", rcpts, "path", attachmentPath, "error", err)
		return Outcome{Err: fmt.Errorf("%w: %s", ErrAttachmentMissing, attachmentPath)}
	}
	if len(e.ports) == 0 {
		return Outcome{Err: ErrNoPorts}
	}

	name := filepath.Base(attachmentPath)
	msg := &Message{
		From:       e.from,
		FromName:   e.fromName,
		To:         to,
		Subject:    subject,
		Body:       body,
		Attachment: &Attachment{Name: name, Data: data},
	}
	raw, err := msg.Bytes(e.now())
	if err != nil {
		logger.Error("mail skipped: could not build message", "recipients", rcpts, "error", err)
		return Outcome{Err: fmt.Errorf("building message: %w", err)}
	}
	logger.Info("mail prepared", "recipients", rcpts, "attachment", name, "size_kb", fmt.Sprintf("%.1f", float64(len(data))/1024))

	attempts := 0
	var lastErr error
	for _, port := range e.ports {
		err := e.policy.Do(ctx, func(attempt int) error {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
			attempts++
			logger.Info("mail attempt", "recipients", rcpts, "port", port, "attempt", attempt+1, "implicit_tls", port == ImplicitTLSPort)
			if err := e.transport.Send(ctx, port, e.from, to, raw); err != nil {
				logger.Error("mail attempt failed", "recipients", rcpts, "port", port, "attempt", attempt+1, "error", err)
				return err
			}
			return nil
		})
		if err == nil {
			logger.Info("mail sent", "recipients", rcpts, "port", port, "attempts", attempts)
			return Outcome{OK: true, Attempts: attempts, Port: port}
		}
		lastErr = err
		logger.Error("all attempts failed on port", "recipients", rcpts, "port", port)
		if ctx.Err() != nil {
			break
		}
	}

	logger.Error("mail delivery failed", "recipients", rcpts, "attempts", attempts, "error", lastErr)
	return Outcome{Err: fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr), Attempts: attempts}
}

func cleanRecipients(recipients []string) []string {
	var out []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
