package instance

import (
	"strings"
	"testing"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("SHOPDECK_INSTANCE_ID", "cron-1")
	if got := GetID(); got != "cron-1" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestGetIDFallsBackToHost(t *testing.T) {
	t.Setenv("SHOPDECK_INSTANCE_ID", "")
	a, b := GetID(), GetID()
	if a == b || !strings.Contains(a, "-") {
		t.Fatalf("expected unique host-based ids, got %q and %q", a, b)
	}
}
