package health

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/types"
)

type staticSource map[string]types.SensorReading

func (s staticSource) Snapshot() map[string]types.SensorReading { return s }

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	zone := filepath.Join(root, "thermal_zone0")
	psu := filepath.Join(root, "power_supply")
	writeFile(t, filepath.Join(zone, "temp"), "48312\n")
	writeFile(t, filepath.Join(psu, "voltage_now"), "5100000\n")

	src := staticSource{
		"door":         {SensorID: "door", Status: types.StatusAlert},
		"backup_power": {SensorID: "backup_power", Status: types.StatusNormal, Value: 1},
	}
	p := NewProbe(config.GlobalConfig{ThermalZone: zone, PowerSupply: psu, BackupPowerSensor: "backup_power"}, src, zerolog.Nop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	snap := p.Snapshot()
	if snap.CPUTemp != 48.312 {
		t.Errorf("CPUTemp = %v, want 48.312", snap.CPUTemp)
	}
	if snap.Voltage != 5.1 {
		t.Errorf("Voltage = %v, want 5.1", snap.Voltage)
	}
	if !snap.BackupPowerOK {
		t.Error("BackupPowerOK = false, want true")
	}
	if snap.SensorStatuses["door"] != types.StatusAlert || len(snap.SensorStatuses) != 2 {
		t.Errorf("SensorStatuses = %v", snap.SensorStatuses)
	}
	if !snap.CollectedAt.Equal(at) || len(snap.Unavailable) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSnapshotUnavailable(t *testing.T) {
	src := staticSource{
		"backup_power": {SensorID: "backup_power", Status: types.StatusError},
	}
	p := NewProbe(config.GlobalConfig{ThermalZone: t.TempDir()}, src, zerolog.Nop())

	snap := p.Snapshot()
	for _, name := range []string{"cpu_temp", "voltage", "backup_power"} {
		if !slices.Contains(snap.Unavailable, name) {
			t.Errorf("Unavailable = %v, missing %s", snap.Unavailable, name)
		}
	}
	if snap.BackupPowerOK {
		t.Error("BackupPowerOK should be false without a configured sensor")
	}

	p.backupSensor = "backup_power"
	if snap := p.Snapshot(); snap.BackupPowerOK || slices.Contains(snap.Unavailable, "backup_power") {
		t.Errorf("failed backup sensor should report not OK: %+v", snap)
	}
}
