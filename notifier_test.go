package otpauth_test

import (
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSMTPServer struct {
	ln     net.Listener
	silent bool

	mu   sync.Mutex
	from string
	rcpt []string
	data string
}

func startFakeSMTP(t *testing.T, silent bool) *fakeSMTPServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeSMTPServer{ln: ln, silent: silent}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn)
		}
	}()
	return srv
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	if s.silent {
		time.Sleep(time.Second)
		return
	}

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.Trim(line[len("RCPT TO:"):], "<> "))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = strings.Join(lines, "\n")
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func TestSMTPNotifier_SendOTP(t *testing.T) {
	srv := startFakeSMTP(t, false)

	notifier, err := otpauth.NewSMTPNotifier(otpauth.SMTPConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		From:     "no-reply@example.com",
		FromName: "OTP Auth",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = notifier.SendOTP(ctx, otpauth.OTPMessage{
		Email:       "ada@example.com",
		DisplayName: "Ada",
		Code:        "048213",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "no-reply@example.com", srv.from)
	assert.Equal(t, []string{"ada@example.com"}, srv.rcpt)
	assert.Contains(t, srv.data, "To: ada@example.com")
	assert.Contains(t, srv.data, "From: OTP Auth <no-reply@example.com>")
	assert.Contains(t, srv.data, "Hello Ada,")
	assert.Contains(t, srv.data, "Your verification code is 048213")
	assert.Contains(t, srv.data, "It expires in 10 minutes.")
}

func TestSMTPNotifier_Timeout(t *testing.T) {
	srv := startFakeSMTP(t, true)

	notifier, err := otpauth.NewSMTPNotifier(otpauth.SMTPConfig{
		Host: "127.0.0.1",
		Port: srv.port(),
		From: "no-reply@example.com",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = notifier.SendOTP(ctx, otpauth.OTPMessage{Email: "ada@example.com", Code: "123456"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSMTPNotifier_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	notifier, err := otpauth.NewSMTPNotifier(otpauth.SMTPConfig{
		Host: "127.0.0.1",
		Port: port,
		From: "no-reply@example.com",
	})
	require.NoError(t, err)

	err = notifier.SendOTP(context.Background(), otpauth.OTPMessage{Email: "ada@example.com", Code: "123456"})
	assert.Error(t, err)
}

func TestNewSMTPNotifier_Validation(t *testing.T) {
	_, err := otpauth.NewSMTPNotifier(otpauth.SMTPConfig{})
	assert.Error(t, err)

	_, err = otpauth.NewSMTPNotifier(otpauth.SMTPConfig{Host: "smtp.example.com"})
	assert.Error(t, err, "from address is required")

	_, err = otpauth.NewSMTPNotifier(otpauth.SMTPConfig{Host: "smtp.example.com", Username: "mailer@example.com"})
	assert.NoError(t, err, "username doubles as from address")
}

func TestLogNotifier(t *testing.T) {
	logger := &captureLogger{}
	notifier := otpauth.NewLogNotifier(logger)

	err := notifier.SendOTP(context.Background(), otpauth.OTPMessage{Email: "ada@example.com", Code: "123456"})
	require.NoError(t, err)
	require.Len(t, logger.lines, 1)
	assert.Equal(t, "info: verification code issued", logger.lines[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, notifier.SendOTP(ctx, otpauth.OTPMessage{}))
}

func TestNotifierFunc(t *testing.T) {
	var got otpauth.OTPMessage
	n := otpauth.NotifierFunc(func(ctx context.Context, msg otpauth.OTPMessage) error {
		got = msg
		return nil
	})

	require.NoError(t, n.SendOTP(context.Background(), otpauth.OTPMessage{Code: strconv.Itoa(42)}))
	assert.Equal(t, "42", got.Code)
}
