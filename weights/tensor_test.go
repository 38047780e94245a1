package weights

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

// TestTensorFormat testet dass fmt und slog nur Typ und Shape ausgeben
func TestTensorFormat(t *testing.T) {
	x := f32(t, []int{2, 3}, seq(6))

	for _, verb := range []string{"%s", "%v", "%+v", "%d"} {
		if got := fmt.Sprintf(verb, x); got != "F32[2 3]" {
			t.Errorf("%s: erwartet F32[2 3], bekam %q", verb, got)
		}
	}
	if got := fmt.Sprint(x); got != "F32[2 3]" {
		t.Errorf("Sprint: erwartet F32[2 3], bekam %q", got)
	}

	var b strings.Builder
	slog.New(slog.NewTextHandler(&b, nil)).Info("weight", "tensor", x)
	if !strings.Contains(b.String(), "tensor=\"F32[2 3]\"") {
		t.Errorf("slog: %s", b.String())
	}

	if err := fmt.Errorf("%s: expected rank 3", x); err.Error() != "F32[2 3]: expected rank 3" {
		t.Errorf("Fehlertext: %q", err)
	}
}
