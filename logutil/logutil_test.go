package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// TestNewLogger_Trace testet das TRACE-Label und die Level-Filterung
func TestNewLogger_Trace(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
		want  bool
	}{
		{"Trace aktiv", LevelTrace, true},
		{"Debug filtert Trace", slog.LevelDebug, false},
		{"Info filtert Trace", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)
			logger.Log(t.Context(), LevelTrace, "materialized", "weight", "embedding")

			out := buf.String()
			if got := strings.Contains(out, "level=TRACE"); got != tt.want {
				t.Errorf("TRACE in Ausgabe = %v, erwartet %v: %q", got, tt.want, out)
			}
			if tt.want && !strings.Contains(out, "source=logutil_test.go:") {
				t.Errorf("Quelle sollte nur den Dateinamen enthalten: %q", out)
			}
		})
	}
}
