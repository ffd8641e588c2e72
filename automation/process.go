package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTable kills processes by name using gopsutil
type ProcessTable struct {
	logger *slog.Logger
}

// NewProcessKiller creates a killer backed by the system process table
func NewProcessKiller(logger *slog.Logger) *ProcessTable {
	return &ProcessTable{logger: logger}
}

// Kill terminates every process whose executable name contains name
func (p *ProcessTable) Kill(ctx context.Context, name string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	killed := 0
	for _, proc := range procs {
		pname, err := proc.NameWithContext(ctx)
		if err != nil || !strings.Contains(pname, name) {
			continue
		}
		if err := proc.KillWithContext(ctx); err != nil {
			p.logger.Warn("Failed to kill process", "name", pname, "pid", proc.Pid, "error", err)
			continue
		}
		p.logger.Info("Killed process", "name", pname, "pid", proc.Pid)
		killed++
	}
	if killed == 0 {
		p.logger.Debug("No process to kill", "name", name)
	}
	return killed, nil
}
