package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// ImplicitTLSPort is the submission port that expects TLS from the first
// byte. Every other port connects in plaintext and upgrades with STARTTLS.
const ImplicitTLSPort = 465

// ErrStartTLSUnsupported is returned when a plaintext port does not offer
// STARTTLS. Credentials are never sent unencrypted.
var ErrStartTLSUnsupported = errors.New("server does not support STARTTLS")

// CandidatePorts returns the ports to try, in order, for host. Yandex only
// accepts implicit TLS; other providers get 587 as a fallback.
func CandidatePorts(host string) []int {
	if strings.Contains(strings.ToLower(host), "yandex") {
		return []int{465}
	}
	return []int{465, 587}
}

// Transport submits one rendered message through one port.
type Transport interface {
	Send(ctx context.Context, port int, from string, to []string, msg []byte) error
}

// SMTPTransport delivers through an authenticated SMTP server.
type SMTPTransport struct {
	Host     string
	Username string
	Password string
	// Timeout bounds the dial and the whole SMTP conversation.
	Timeout time.Duration
	// TLSConfig overrides the default of verifying Host.
	TLSConfig *tls.Config
	// TLSPort is the port that speaks TLS from the first byte. Zero means
	// ImplicitTLSPort.
	TLSPort int
}

func (t *SMTPTransport) implicitTLS(port int) bool {
	if t.TLSPort != 0 {
		return port == t.TLSPort
	}
	return port == ImplicitTLSPort
}

func (t *SMTPTransport) tlsConfig() *tls.Config {
	if t.TLSConfig != nil {
		return t.TLSConfig
	}
	return &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
}

func (t *SMTPTransport) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return 30 * time.Second
}

// Send performs one SMTP transaction on port.
func (t *SMTPTransport) Send(ctx context.Context, port int, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(port))
	timeout := t.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: timeout}
	var (
		conn net.Conn
		err  error
	)
	if t.implicitTLS(port) {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: t.tlsConfig()}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer c.Close()

	if !t.implicitTLS(port) {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return ErrStartTLSUnsupported
		}
		if err := c.StartTLS(t.tlsConfig()); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if t.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.Username, t.Password, t.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}
