package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"info", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, parseLogLevel(tt.env).Level(), "parseLogLevel(%q)", tt.env)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("debug", format)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
		logger.Info("test message")
	}
}

func TestMetricsForTesting_Usable(t *testing.T) {
	m := NewMetricsForTesting()

	m.UpstreamRequests.WithLabelValues("success").Inc()
	m.RecordsRejected.WithLabelValues("temp").Add(2)
	m.RowsRemoved.WithLabelValues("humidity").Inc()
	m.StageFailures.WithLabelValues("schema", "schema").Inc()
	m.CleanedRows.WithLabelValues("Hà Nội").Set(40)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsRejected.WithLabelValues("temp")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.CleanedRows.WithLabelValues("Hà Nội")))
}
