package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "git_commit", "build_date", "go_version"} {
		if info[key] == "" {
			t.Errorf("Info()[%q] is empty", key)
		}
	}
}

func TestStringAndUserAgent(t *testing.T) {
	old := Version
	Version = "v1.2.3"
	defer func() { Version = old }()

	if got := UserAgent(); got != "cloud-cost-monitor/v1.2.3" {
		t.Errorf("UserAgent: got %q", got)
	}
	if got := String(); !strings.HasPrefix(got, "cloud-cost-monitor v1.2.3 (commit ") {
		t.Errorf("String: got %q", got)
	}
}
