package database

import "testing"

func TestRedisNeedsApproval(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  bool
	}{
		{"get", map[string]any{"command": "GET"}, false},
		{"lowercase get", map[string]any{"command": "get"}, false},
		{"scan", map[string]any{"command": "SCAN"}, false},
		{"set", map[string]any{"command": "SET"}, true},
		{"del", map[string]any{"command": "DEL"}, true},
		{"flushall", map[string]any{"command": "FLUSHALL"}, true},
		{"missing command", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redisNeedsApproval(tt.input); got != tt.want {
				t.Fatalf("redisNeedsApproval(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsReadOnlyQuery(t *testing.T) {
	tests := []struct {
		query         string
		allowDescribe bool
		want          bool
	}{
		{"SELECT * FROM users", false, true},
		{"  select id from t", false, true},
		{"SHOW TABLES", false, true},
		{"EXPLAIN SELECT 1", false, true},
		{"DESCRIBE users", true, true},
		{"DESCRIBE users", false, false},
		{"DELETE FROM users", false, false},
		{"UPDATE t SET x = 1", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := isReadOnlyQuery(tt.query, tt.allowDescribe); got != tt.want {
				t.Fatalf("isReadOnlyQuery(%q, %v) = %v, want %v", tt.query, tt.allowDescribe, got, tt.want)
			}
		})
	}
}
