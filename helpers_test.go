package otpauth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	otpauth "github.com/goliatone/go-auth-otp"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = otpauth.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

type capturingSink struct {
	mu     sync.Mutex
	events []otpauth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt otpauth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []otpauth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]otpauth.ActivityEventType, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType)
	}
	return out
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) add(line string) {
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug: " + msg) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info: " + msg) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn: " + msg) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error: " + msg) }
