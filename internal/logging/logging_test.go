package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := New(Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("startup", zap.String("component", "test"))
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Level: "verbose", Format: "json"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Config{Level: "info", Format: "xml"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Redaction.Enabled)
}

func TestRedactingEncoder(t *testing.T) {
	base := zapcore.NewMapObjectEncoder()
	enc := NewRedactingEncoder(wrapMapEncoder(base), RedactionConfig{
		Enabled: true,
		Fields:  []string{"api_key", "password"},
	})

	enc.AddString("api_key", "sk-secret")
	enc.AddString("API_KEY", "sk-secret")
	enc.AddString("question", "what is Go?")

	assert.Equal(t, "[REDACTED]", base.Fields["api_key"])
	assert.Equal(t, "[REDACTED]", base.Fields["API_KEY"])
	assert.Equal(t, "what is Go?", base.Fields["question"])
}

func TestRedactingEncoderDisabled(t *testing.T) {
	base := zapcore.NewMapObjectEncoder()
	enc := NewRedactingEncoder(wrapMapEncoder(base), RedactionConfig{Enabled: false, Fields: []string{"password"}})

	enc.AddString("password", "hunter2")
	assert.Equal(t, "hunter2", base.Fields["password"])
}

func TestRedactedString(t *testing.T) {
	field := RedactedString("token", "abcd")
	assert.Equal(t, "[REDACTED:4]", field.String)
}

// wrapMapEncoder adapts a MapObjectEncoder to the Encoder interface for
// redaction tests; only the ObjectEncoder methods are exercised.
func wrapMapEncoder(m *zapcore.MapObjectEncoder) zapcore.Encoder {
	return mapEncoder{MapObjectEncoder: m}
}

type mapEncoder struct {
	*zapcore.MapObjectEncoder
}

func (mapEncoder) Clone() zapcore.Encoder {
	return mapEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (mapEncoder) EncodeEntry(zapcore.Entry, []zapcore.Field) (*buffer.Buffer, error) {
	return nil, nil
}
