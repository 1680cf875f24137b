package coordination

import (
	"context"
	"errors"
	"math"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"sharedcounter/pkg/logger"
)

// ProcessProbe checks pids against the host process table.
//
// Ambiguous answers (permission denied, probe errors) count as alive so
// that two processes never both believe they lead. Zombies count as dead:
// they hold a pid but will never run another tick.
type ProcessProbe struct{}

func (ProcessProbe) Alive(ctx context.Context, pid int64) bool {
	if pid <= 0 || pid > math.MaxInt32 {
		return false
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		logger.Warn("Liveness probe failed, assuming alive", zap.Int64("pid", pid), zap.Error(err))
		return true
	}
	if !exists {
		return false
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return !errors.Is(err, process.ErrorProcessNotRunning)
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}
