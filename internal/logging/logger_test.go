package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "format")

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	_, err = NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "at least one output")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"trace level", func(c *Config) { c.Level = "trace" }, true},
		{"unknown level", func(c *Config) { c.Level = "loud" }, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, false},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"(unclosed"} }, false},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"service": ""} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithSessionID(context.Background(), "0b7c1b9e-6f5e-4c43-9a55-3f1d2c6d8e11")
	ctx = WithRequestID(ctx, "req-42")
	tl.Info(ctx, "retrieval finished", zap.Int("documents", 4))

	tl.AssertLogged(t, zapcore.InfoLevel, "retrieval finished")
	tl.AssertField(t, "retrieval finished", "session.id", "0b7c1b9e-6f5e-4c43-9a55-3f1d2c6d8e11")
	tl.AssertField(t, "retrieval finished", "request.id", "req-42")
	tl.AssertField(t, "retrieval finished", "documents", int64(4))
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields[0].String)
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored logger")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored logger")
}

func TestLogger_Trace(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "chunk", zap.Int("bytes", 3))
	tl.AssertLogged(t, TraceLevel, "chunk")
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("verbose")
	assert.Error(t, err)
}

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	var buf bytes.Buffer
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	base := zapcore.NewCore(enc, zapcore.AddSync(&buf), TraceLevel)

	core := newSampledCore(base, SamplingConfig{Enabled: true, Tick: 1e9, Initial: 1, Thereafter: 0})
	z := zap.New(core)
	for i := 0; i < 5; i++ {
		z.Info("same")
		z.Error("boom")
	}

	out := buf.String()
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte(`"msg":"same"`)))
	assert.Equal(t, 5, bytes.Count([]byte(out), []byte(`"msg":"boom"`)))
}
