package service

import (
	"testing"

	"github.com/opsloom/opsloom/pkg/models"
)

func TestClassifyBySignals(t *testing.T) {
	tests := []struct {
		content  string
		want     models.Mode
		resolved bool
	}{
		{"nginx crashed with a segfault after the upgrade", models.ModeDebug, true},
		{"should I use postgres or mysql for this workload", models.ModeArchitect, true},
		{"give me a migration plan for moving to the new server", models.ModePlan, true},
		{"run a health check on the web tier", models.ModeTest, true},
		{"how do I rotate the TLS certificates", models.ModeSupport, true},
		// No signal: defer to the model.
		{"what's the weather like", "", false},
		// Conflicting signals: defer to the model.
		{"the deploy plan failed with an error", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, ok := classifyBySignals(tt.content)
			if ok != tt.resolved {
				t.Fatalf("classifyBySignals(%q) resolved = %v, want %v", tt.content, ok, tt.resolved)
			}
			if ok && got != tt.want {
				t.Fatalf("classifyBySignals(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestParseModeOutput(t *testing.T) {
	tests := []struct {
		output string
		want   models.Mode
	}{
		{"debug", models.ModeDebug},
		{"Debug", models.ModeDebug},
		{"  plan  ", models.ModePlan},
		{"\"architect\"", models.ModeArchitect},
		{"test.", models.ModeTest},
		{"The mode is: support", models.ModeSupport},
		{"chat", models.ModeChat},
		{"", models.ModeChat},
		{"banana", models.ModeChat},
		{"I cannot classify this", models.ModeChat},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			if got := parseModeOutput(tt.output); got != tt.want {
				t.Fatalf("parseModeOutput(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}
