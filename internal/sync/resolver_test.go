package sync

import (
	"testing"
	"time"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/integration"
	"github.com/netneural/sync-core/internal/registry"
)

func testLocal(updatedAt time.Time) *device.Device {
	ext := "ext-1"
	return &device.Device{
		ID:               "dev-1",
		OrganizationID:   "org-01",
		Name:             "boiler-room-sensor",
		ExternalDeviceID: &ext,
		Status:           device.StatusOnline,
		Shadow:           device.Shadow{"temp": 21.5},
		Tags:             []string{"hvac"},
		Version:          3,
		UpdatedAt:        updatedAt,
	}
}

func testRemote(updatedAt time.Time) *registry.Record {
	fw := "2.1.0"
	return &registry.Record{
		ExternalID:      "ext-1",
		Name:            "boiler-room-sensor-renamed",
		Status:          device.StatusOffline,
		Shadow:          map[string]any{"temp": 22.0},
		Tags:            []string{"hvac", "renamed"},
		FirmwareVersion: &fw,
		UpdatedAt:       updatedAt,
	}
}

func TestResolve(t *testing.T) {
	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		policy     integration.ConflictPolicy
		localTime  time.Time
		remoteTime time.Time
		want       Winner
	}{
		{"local_wins keeps local", integration.PolicyLocalWins, base, base.Add(time.Hour), WinnerLocal},
		{"remote_wins applies remote", integration.PolicyRemoteWins, base.Add(time.Hour), base, WinnerRemote},
		{"manual defers", integration.PolicyManual, base, base.Add(time.Hour), WinnerManual},
		{"newest_wins local strictly newer", integration.PolicyNewestWins, base.Add(time.Second), base, WinnerLocal},
		{"newest_wins remote newer", integration.PolicyNewestWins, base, base.Add(time.Second), WinnerRemote},
		{"newest_wins tie goes remote", integration.PolicyNewestWins, base, base, WinnerRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := testLocal(tt.localTime)
			remote := testRemote(tt.remoteTime)

			res := Resolve(local, remote, tt.policy)
			if res.Winner != tt.want {
				t.Fatalf("Winner = %q, want %q", res.Winner, tt.want)
			}

			switch tt.want {
			case WinnerRemote:
				if res.Record == nil {
					t.Fatal("remote win did not produce a record")
				}
				if res.Record.Name != remote.Name {
					t.Errorf("Record.Name = %q, want %q", res.Record.Name, remote.Name)
				}
				if res.Record.ID != local.ID {
					t.Errorf("Record.ID = %q, local identity not preserved", res.Record.ID)
				}
			default:
				if res.Record != nil {
					t.Errorf("Record = %+v, want nil", res.Record)
				}
			}
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		local := testLocal(base)
		remote := testRemote(base.Add(time.Minute))

		first := Resolve(local, remote, integration.PolicyNewestWins)
		second := Resolve(local, remote, integration.PolicyNewestWins)
		if first.Winner != second.Winner {
			t.Errorf("winners differ: %q then %q", first.Winner, second.Winner)
		}
		if local.Name != "boiler-room-sensor" {
			t.Errorf("Resolve mutated its input: Name = %q", local.Name)
		}
	})
}

func TestApplyRemote(t *testing.T) {
	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	local := testLocal(base)
	remote := testRemote(base.Add(time.Hour))

	merged := ApplyRemote(local, remote)

	if merged.ID != "dev-1" || merged.OrganizationID != "org-01" {
		t.Errorf("identity not preserved: %q / %q", merged.ID, merged.OrganizationID)
	}
	if merged.Name != remote.Name {
		t.Errorf("Name = %q, want %q", merged.Name, remote.Name)
	}
	if merged.Status != device.StatusOffline {
		t.Errorf("Status = %q, want offline", merged.Status)
	}
	if merged.Shadow["temp"] != 22.0 {
		t.Errorf("Shadow = %v", merged.Shadow)
	}
	if merged.FirmwareVersion == nil || *merged.FirmwareVersion != "2.1.0" {
		t.Errorf("FirmwareVersion = %v", merged.FirmwareVersion)
	}

	// Original untouched.
	if local.Name != "boiler-room-sensor" || local.Shadow["temp"] != 21.5 {
		t.Errorf("ApplyRemote mutated local: %q %v", local.Name, local.Shadow)
	}

	t.Run("partial remote keeps local fields", func(t *testing.T) {
		sparse := &registry.Record{ExternalID: "ext-1", Shadow: map[string]any{"temp": 25.0}}
		merged := ApplyRemote(local, sparse)
		if merged.Name != local.Name {
			t.Errorf("Name = %q, want local name kept", merged.Name)
		}
		if merged.Status != local.Status {
			t.Errorf("Status = %q, want local status kept", merged.Status)
		}
		if merged.Shadow["temp"] != 25.0 {
			t.Errorf("Shadow = %v", merged.Shadow)
		}
	})

	t.Run("fills missing external id", func(t *testing.T) {
		bare := testLocal(base)
		bare.ExternalDeviceID = nil
		merged := ApplyRemote(bare, remote)
		if merged.ExternalDeviceID == nil || *merged.ExternalDeviceID != "ext-1" {
			t.Errorf("ExternalDeviceID = %v, want ext-1", merged.ExternalDeviceID)
		}
	})
}

func TestBothChanged(t *testing.T) {
	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		local    time.Time
		remote   time.Time
		lastSync time.Time
		want     bool
	}{
		{"both after last sync", base.Add(time.Hour), base.Add(2 * time.Hour), base, true},
		{"only local changed", base.Add(time.Hour), base.Add(-time.Hour), base, false},
		{"only remote changed", base.Add(-time.Hour), base.Add(time.Hour), base, false},
		{"neither changed", base.Add(-time.Hour), base.Add(-time.Hour), base, false},
		{"never synced", base, base, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BothChanged(tt.local, tt.remote, tt.lastSync); got != tt.want {
				t.Errorf("BothChanged = %v, want %v", got, tt.want)
			}
		})
	}
}
