package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTurn("cache_hit")
	m.ObserveTurn("cache_hit")
	m.ObserveTurn("generated")
	m.StoreFailed(StoreAudit)
	m.SessionConflict()
	m.AuditDropped()
	m.SetKnowledgeEntries(7)
	m.KnowledgeLoadFailed()
	m.ObserveLookup("hit", 10*time.Millisecond)
	m.ObserveGeneration("ok", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("cache_hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("generated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreFailuresTotal.WithLabelValues(StoreAudit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionConflictsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDroppedTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.KnowledgeEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeLoadFailuresTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveTurn("generated")
		m.ObserveLookup("miss", time.Millisecond)
		m.ObserveGeneration("error", time.Millisecond)
		m.StoreFailed(StoreSession)
		m.SessionConflict()
		m.AuditDropped()
		m.SetKnowledgeEntries(1)
		m.KnowledgeLoadFailed()
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{"debug json", "debug", "json", zapcore.DebugLevel, false},
		{"warn console", "warn", "console", zapcore.WarnLevel, false},
		{"error default format", "error", "", zapcore.ErrorLevel, false},
		{"unknown level", "verbose", "json", zapcore.InfoLevel, false},
		{"unknown format", "info", "xml", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
			}
		})
	}
}
