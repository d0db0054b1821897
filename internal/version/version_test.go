package version

import "testing"

func TestStrings(t *testing.T) {
	prevV, prevC, prevB := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = prevV, prevC, prevB })

	Version, Commit, BuildTime = "1.2.0", "abc123", "2026-01-01T00:00:00Z"

	if got := String(); got != "1.2.0 (abc123) built 2026-01-01T00:00:00Z" {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); got != "studio-console/1.2.0" {
		t.Errorf("UserAgent() = %q", got)
	}
}
