package ui

import (
	"strings"
	"testing"
)

func TestRenderOutcome(t *testing.T) {
	noColor = false
	t.Cleanup(func() { noColor = false })

	for _, tc := range []struct {
		in   string
		code string
	}{
		{"completed", "114"},
		{"timed_out", "179"},
		{"failed", "203"},
	} {
		got := RenderOutcome(tc.in)
		if !strings.Contains(got, "38;5;"+tc.code+"m"+tc.in) {
			t.Errorf("RenderOutcome(%q) = %q, want color %s", tc.in, got, tc.code)
		}
	}
	if got := RenderOutcome("queued"); got != "queued" {
		t.Errorf("unknown outcome colored: %q", got)
	}
}

func TestForceNoColor(t *testing.T) {
	t.Cleanup(func() { noColor = false })
	ForceNoColor()
	if got := RenderAccent("Jobs:"); got != "Jobs:" {
		t.Fatalf("RenderAccent = %q, want plain", got)
	}
	if got := RenderOutcome("failed"); got != "failed" {
		t.Fatalf("RenderOutcome = %q, want plain", got)
	}
}

func TestShouldUseColor_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor() {
		t.Fatal("NO_COLOR should disable color")
	}
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Fatal("CLICOLOR_FORCE should force color")
	}
	t.Setenv("CLICOLOR_FORCE", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Fatal("CLICOLOR=0 should disable color")
	}
}
