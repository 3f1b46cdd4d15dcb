package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/event"
	"github.com/opsloom/opsloom/pkg/tools"
	"github.com/opsloom/opsloom/pkg/utils"
)

// discoveryProbes is the fixed command set run against a server during
// discovery. Each probe fills one fact; probes that fail are skipped.
var discoveryProbes = []struct {
	fact    string
	command string
}{
	{"hostname", "hostname"},
	{"os", "cat /etc/os-release | grep PRETTY_NAME | cut -d'\"' -f2"},
	{"kernel", "uname -r"},
	{"arch", "uname -m"},
	{"cpu_count", "nproc"},
	{"memory", "free -h | awk 'NR==2{print $2\" total, \"$7\" available\"}'"},
	{"disk_root", "df -h / | awk 'NR==2{print $2\" total, \"$4\" free (\"$5\" used)\"}'"},
	{"uptime", "uptime -p"},
	{"docker", "docker --version 2>/dev/null || echo 'not installed'"},
	{"nginx", "nginx -v 2>&1 || echo 'not installed'"},
	{"listening_ports", "ss -tlnp 2>/dev/null | awk 'NR>1{print $4}' | head -20 | tr '\\n' ' '"},
}

const discoveryProbeTimeout = 15 * time.Second

// DiscoveryService probes managed servers over SSH and records what it
// finds as facts on the server row.
type DiscoveryService struct {
	store    *ChatStore
	executor tools.Executor
	logger   *slog.Logger
}

func NewDiscoveryService(store *ChatStore, executor tools.Executor) *DiscoveryService {
	return &DiscoveryService{
		store:    store,
		executor: executor,
		logger:   utils.GetLogger(),
	}
}

// Discover runs the probe set against the server and persists the result.
// An unreachable server is marked offline; a reachable one is marked online
// even if individual probes fail.
func (d *DiscoveryService) Discover(ctx context.Context, serverID string) (*db.Server, error) {
	if _, err := d.store.GetServer(serverID); err != nil {
		return nil, err
	}

	// A cheap echo decides reachability before the full probe set runs.
	if _, err := d.executor.Execute(ctx, serverID, "echo ok", discoveryProbeTimeout); err != nil {
		if recErr := d.store.RecordDiscovery(serverID, db.ServerStatusOffline, nil); recErr != nil {
			d.logger.Warn("record discovery failed", "server_id", serverID, "error", recErr)
		}
		event.Emit(event.ServerDiscoveredEvent{ServerID: serverID, Online: false})
		return nil, fmt.Errorf("server unreachable: %w", err)
	}

	facts := db.JSONMap{}
	for _, probe := range discoveryProbes {
		res, err := d.executor.Execute(ctx, serverID, probe.command, discoveryProbeTimeout)
		if err != nil {
			d.logger.Debug("discovery probe failed", "server_id", serverID, "fact", probe.fact, "error", err)
			continue
		}
		value := strings.TrimSpace(res.Stdout)
		if value == "" && res.ExitCode != 0 {
			continue
		}
		if value != "" {
			facts[probe.fact] = value
		}
	}

	if err := d.store.RecordDiscovery(serverID, db.ServerStatusOnline, facts); err != nil {
		return nil, fmt.Errorf("record discovery: %w", err)
	}
	event.Emit(event.ServerDiscoveredEvent{ServerID: serverID, Online: true})

	d.logger.Info("server discovered", "server_id", serverID, "facts", len(facts))
	return d.store.GetServer(serverID)
}

// TestConnection checks SSH reachability without persisting anything.
func (d *DiscoveryService) TestConnection(ctx context.Context, serverID string) error {
	res, err := d.executor.Execute(ctx, serverID, "echo ok", discoveryProbeTimeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("connection check exited with code %d", res.ExitCode)
	}
	return nil
}
