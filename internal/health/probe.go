// Package health collects the on-demand system health snapshot.
package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/types"
)

// DefaultThermalZone is the Raspberry Pi SoC thermal zone
const DefaultThermalZone = "/sys/class/thermal/thermal_zone0"

// SnapshotSource exposes the latest classified readings
type SnapshotSource interface {
	Snapshot() map[string]types.SensorReading
}

// Probe reads board telemetry from sysfs and sensor state from the monitor
type Probe struct {
	thermalZone  string
	powerSupply  string
	backupSensor string
	source       SnapshotSource
	now          func() time.Time
	logger       zerolog.Logger
}

// NewProbe creates a probe from the global monitoring settings
func NewProbe(g config.GlobalConfig, source SnapshotSource, logger zerolog.Logger) *Probe {
	zone := g.ThermalZone
	if zone == "" {
		zone = DefaultThermalZone
	}
	return &Probe{
		thermalZone:  zone,
		powerSupply:  g.PowerSupply,
		backupSensor: g.BackupPowerSensor,
		source:       source,
		now:          time.Now,
		logger:       logger.With().Str("component", "health").Logger(),
	}
}

// Snapshot computes a fresh SystemHealthSnapshot. Values that cannot be
// read are left at zero and named in Unavailable.
func (p *Probe) Snapshot() types.SystemHealthSnapshot {
	snap := types.SystemHealthSnapshot{
		SensorStatuses: make(map[string]types.Status),
		CollectedAt:    p.now(),
	}

	// millidegrees Celsius
	if v, err := readNumber(filepath.Join(p.thermalZone, "temp")); err == nil {
		snap.CPUTemp = v / 1000
	} else {
		p.logger.Debug().Err(err).Msg("CPU temperature unavailable")
		snap.Unavailable = append(snap.Unavailable, "cpu_temp")
	}

	// microvolts
	if p.powerSupply == "" {
		snap.Unavailable = append(snap.Unavailable, "voltage")
	} else if v, err := readNumber(filepath.Join(p.powerSupply, "voltage_now")); err == nil {
		snap.Voltage = v / 1e6
	} else {
		p.logger.Debug().Err(err).Msg("supply voltage unavailable")
		snap.Unavailable = append(snap.Unavailable, "voltage")
	}

	readings := p.source.Snapshot()
	for id, r := range readings {
		snap.SensorStatuses[id] = r.Status
	}

	if r, ok := readings[p.backupSensor]; ok && p.backupSensor != "" {
		snap.BackupPowerOK = r.Status == types.StatusNormal
	} else {
		snap.Unavailable = append(snap.Unavailable, "backup_power")
	}

	return snap
}

func readNumber(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
