package otpauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		args []any
		want string
	}{
		{name: "message only", msg: "ready", want: "ready\n"},
		{name: "trailing newline trimmed", msg: "ready\n", want: "ready\n"},
		{name: "pairs", msg: "login", args: []any{"email", "ada@x.com", "ok", true}, want: "login email=ada@x.com ok=true\n"},
		{name: "dangling key", msg: "sweep", args: []any{"removed", 2, "extra"}, want: "sweep removed=2 extra\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLine(tt.msg, tt.args...))
		})
	}
}

type nopLogger struct{ defLogger }

func TestNormalizeLogger(t *testing.T) {
	assert.Equal(t, defLogger{}, normalizeLogger(nil))

	custom := &nopLogger{}
	assert.Same(t, custom, normalizeLogger(custom))
}
