package reporting

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/e2e-harness/internal/config"
)

// implicitTLSPort is the submissions port, where TLS starts before SMTP.
const implicitTLSPort = 465

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer emails rendered reports.
type Mailer struct {
	cfg    config.SMTPConfig
	prefix string
	title  string
	send   SendFunc
	logger *zap.Logger
	now    func() time.Time
}

// NewMailer validates the SMTP section and returns a mailer for it.
func NewMailer(cfg config.ReportingConfig, logger *zap.Logger) (*Mailer, error) {
	smtpCfg := cfg.SMTP
	if err := smtpCfg.Validate(); err != nil {
		return nil, err
	}
	m := &Mailer{
		cfg:    smtpCfg,
		prefix: cfg.SubjectPrefix,
		title:  cfg.Title,
		logger: logger.Named("mailer"),
		now:    time.Now,
	}
	m.send = smtp.SendMail
	if smtpCfg.UseTLS && smtpCfg.Port == implicitTLSPort {
		m.send = m.sendImplicitTLS
	}
	return m, nil
}

// Subject builds the message subject, for example
// "[e2e] [FAIL] Nightly: 41/43 passed".
func (m *Mailer) Subject(s *Summary) string {
	verdict := "[PASS]"
	if !s.Success() {
		verdict = "[FAIL]"
	}
	parts := []string{}
	if m.prefix != "" {
		parts = append(parts, m.prefix)
	}
	parts = append(parts, verdict, fmt.Sprintf("%s: %d/%d passed", m.title, s.Passed, s.Total-s.Skipped))
	return strings.Join(parts, " ")
}

// Send emails htmlBody to the configured recipients.
func (m *Mailer) Send(ctx context.Context, s *Summary, htmlBody []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := m.Subject(s)
	msg := m.buildMessage(subject, htmlBody)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	done := make(chan error, 1)
	go func() { done <- m.send(addr, auth, m.cfg.From, m.cfg.To, msg) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sending report email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send report email via %s: %w", addr, err)
		}
	}

	m.logger.Info("Report email sent.",
		zap.String("subject", subject),
		zap.Strings("to", m.cfg.To),
		zap.Int("bytes", len(msg)),
	)
	return nil
}

func (m *Mailer) buildMessage(subject string, htmlBody []byte) []byte {
	var b bytes.Buffer
	host := m.cfg.Host
	if host == "" {
		host = "localhost"
	}
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", m.cfg.From)
	header("To", strings.Join(m.cfg.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), host))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.Write(normalizeCRLF(htmlBody))
	return b.Bytes()
}

func normalizeCRLF(body []byte) []byte {
	body = bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(body, []byte("\n"), []byte("\r\n"))
}

// sendImplicitTLS delivers over a connection that is TLS from the first byte.
func (m *Mailer) sendImplicitTLS(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 30 * time.Second},
		Config:    &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
