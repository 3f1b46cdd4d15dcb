package exec

import (
	"regexp"
	"strings"
)

// destructivePatterns match commands that can take down services or destroy
// data. Matching any of them routes the call through the approval gate.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bsu\s+(-|root)\b`),
	regexp.MustCompile(`\bsystemctl\s+(stop|disable|mask|kill)\b`),
	regexp.MustCompile(`\bservice\s+\S+\s+stop\b`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)`),
	regexp.MustCompile(`\bchown\s+(-[a-zA-Z]*R[a-zA-Z]*\s+)`),
	regexp.MustCompile(`\b(userdel|groupdel)\b`),
	regexp.MustCompile(`\biptables\s+(-F|--flush)`),
	regexp.MustCompile(`\bkill\s+(-9\s+)?1\b`),
	regexp.MustCompile(`\btruncate\s+`),
	regexp.MustCompile(`\bdrop\s+(database|table)\b`),
	regexp.MustCompile(`\b(apt|apt-get|yum|dnf)\s+(remove|purge|autoremove)\b`),
	regexp.MustCompile(`:\(\)\s*\{`),
	regexp.MustCompile(`\bcrontab\s+-r\b`),
}

// IsDestructiveCommand reports whether a shell command matches a known
// destructive pattern.
func IsDestructiveCommand(command string) bool {
	lowered := strings.ToLower(command)
	for _, re := range destructivePatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}

// commandNeedsApproval is the approval predicate for command tools: it
// inspects the "command" (or "script") input field.
func commandNeedsApproval(input map[string]any) bool {
	for _, key := range []string{"command", "script"} {
		if v, ok := input[key].(string); ok && IsDestructiveCommand(v) {
			return true
		}
	}
	return false
}
