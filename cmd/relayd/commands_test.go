package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crisos/relayd/internal/relay"
)

func TestParseIntervalOr(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"2s", 2 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"", 5 * time.Second},
		{"nonsense", 5 * time.Second},
		{"-1s", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := parseIntervalOr(tt.value, 5*time.Second); got != tt.want {
			t.Errorf("parseIntervalOr(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestRiskColor(t *testing.T) {
	if riskColor(relay.RiskHigh) != colorRed {
		t.Error("high risk should render red")
	}
	if riskColor(relay.RiskMedium) != colorYellow {
		t.Error("medium risk should render yellow")
	}
	if riskColor(relay.RiskLow) != colorGreen {
		t.Error("low risk should render green")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := pidFilePath(dir)
	if filepath.Dir(path) != dir {
		t.Errorf("pid path %q not under data dir", path)
	}

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("pid file still readable after remove")
	}
}

func TestColorizeRespectsNoColor(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()
	if got := colorize(colorRed, "hi"); got != "hi" {
		t.Errorf("colorize with no-color = %q", got)
	}
}
