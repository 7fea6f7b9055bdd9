package otpauth

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

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Subject  string
	// InsecureSkipVerify disables certificate checks on STARTTLS and
	// implicit TLS connections.
	InsecureSkipVerify bool
}

// SMTPNotifier emails verification codes through an SMTP relay.
type SMTPNotifier struct {
	cfg    SMTPConfig
	now    Clock
	dialer net.Dialer
}

var _ Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier returns a notifier for cfg. Port defaults to 587.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}
	return &SMTPNotifier{cfg: cfg, now: time.Now}, nil
}

// SendOTP implements Notifier. The whole exchange is bounded by ctx.
func (n *SMTPNotifier) SendOTP(ctx context.Context, msg OTPMessage) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	tlsConfig := &tls.Config{ServerName: n.cfg.Host, InsecureSkipVerify: n.cfg.InsecureSkipVerify}

	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// port 465 speaks TLS from the first byte
	if n.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if n.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(n.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.Email); err != nil {
		return err
	}

	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write([]byte(n.buildMessage(msg))); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) buildMessage(msg OTPMessage) string {
	from := n.cfg.From
	if n.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.cfg.FromName, n.cfg.From)
	}

	greeting := "Hello,"
	if msg.DisplayName != "" {
		greeting = fmt.Sprintf("Hello %s,", msg.DisplayName)
	}

	minutes := int(msg.ExpiresAt.Sub(n.now()).Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.cfg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", greeting)
	fmt.Fprintf(&b, "Your verification code is %s\r\n", msg.Code)
	fmt.Fprintf(&b, "It expires in %d minutes.\r\n", minutes)
	return b.String()
}
