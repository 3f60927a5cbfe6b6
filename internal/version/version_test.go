package version

import (
	"strings"
	"testing"
)

func TestFullUsesInjectedCommit(t *testing.T) {
	prev := Commit
	Commit = "abc1234"
	t.Cleanup(func() { Commit = prev })

	full := Full()
	if !strings.HasPrefix(full, "any-cache "+Version) || !strings.Contains(full, "abc1234") {
		t.Fatalf("unexpected version string %q", full)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "any-cache/"+Version {
		t.Fatalf("unexpected user agent %q", got)
	}
}
