package exec

import "testing"

func TestIsDestructiveCommand(t *testing.T) {
	tests := []struct {
		command string
		want    bool
	}{
		{"ls -la /var/www", false},
		{"df -h", false},
		{"cat /etc/nginx/nginx.conf", false},
		{"systemctl status nginx", false},
		{"systemctl restart nginx", false},
		{"rm -rf /var/www/html", true},
		{"rm -fr /tmp/cache", true},
		{"sudo apt update", true},
		{"systemctl stop nginx", true},
		{"systemctl disable postgresql", true},
		{"service mysql stop", true},
		{"shutdown -h now", true},
		{"reboot", true},
		{"mkfs.ext4 /dev/sdb1", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"chmod -R 777 /var", true},
		{"apt-get purge nginx", true},
		{"DROP TABLE users", true},
		{"crontab -r", true},
		{"grep format /var/log/syslog", false},
		{"echo 'rmdir is safe'", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			if got := IsDestructiveCommand(tt.command); got != tt.want {
				t.Fatalf("IsDestructiveCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}

func TestCommandNeedsApproval(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  bool
	}{
		{"safe command", map[string]any{"command": "uptime"}, false},
		{"destructive command", map[string]any{"command": "rm -rf /opt/app"}, true},
		{"destructive script", map[string]any{"script": "systemctl stop nginx\nrm -rf /etc/nginx"}, true},
		{"no command field", map[string]any{"server_id": "abc"}, false},
		{"non-string command", map[string]any{"command": 42}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandNeedsApproval(tt.input); got != tt.want {
				t.Fatalf("commandNeedsApproval(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
