package tools_test

import (
	"testing"

	"github.com/opsloom/opsloom/pkg/models"
	"github.com/opsloom/opsloom/pkg/tools"
	_ "github.com/opsloom/opsloom/pkg/tools/all"
)

func exposedIDs(mode models.Mode) map[tools.ToolID]bool {
	out := make(map[tools.ToolID]bool)
	for _, def := range tools.ListToolDefinitionsForMode(mode) {
		out[def.ID] = true
	}
	return out
}

func TestModeExposure_AdvisoryModesAreReadOnly(t *testing.T) {
	mutating := []tools.ToolID{
		"run_command", "run_script", "write_file", "docker_manage",
		"nginx_manage", "cert_issue", "backup_create",
	}
	readOnly := []tools.ToolID{
		"service_status", "read_file", "list_dir", "docker_list",
		"docker_logs", "nginx_sites", "cert_status", "backup_list",
	}

	for _, mode := range []models.Mode{models.ModeArchitect, models.ModePlan} {
		ids := exposedIDs(mode)
		for _, id := range mutating {
			if ids[id] {
				t.Fatalf("%s mode exposes %s, want read-only tool set", mode, id)
			}
		}
		for _, id := range readOnly {
			if !ids[id] {
				t.Fatalf("%s mode missing read-only tool %s", mode, id)
			}
		}
	}
}

func TestModeExposure_OperatingModesKeepMutatingTools(t *testing.T) {
	for _, mode := range tools.ModesAllowingChanges {
		ids := exposedIDs(mode)
		for _, id := range []tools.ToolID{"run_command", "write_file", "docker_manage"} {
			if !ids[id] {
				t.Fatalf("%s mode missing %s", mode, id)
			}
		}
	}
}
