package integration

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := func() *Integration {
		return testIntegration("int-valid")
	}

	tests := []struct {
		name    string
		mutate  func(*Integration)
		wantErr error
	}{
		{
			name:    "valid registry integration",
			mutate:  func(i *Integration) {},
			wantErr: nil,
		},
		{
			name: "valid channel integration",
			mutate: func(i *Integration) {
				i.Type = TypeSlack
				i.Sync = SyncSettings{}
			},
			wantErr: nil,
		},
		{
			name:    "missing organization",
			mutate:  func(i *Integration) { i.OrganizationID = "" },
			wantErr: ErrInvalid,
		},
		{
			name:    "empty name",
			mutate:  func(i *Integration) { i.Name = "" },
			wantErr: ErrInvalid,
		},
		{
			name:    "name too long",
			mutate:  func(i *Integration) { i.Name = strings.Repeat("x", maxNameLength+1) },
			wantErr: ErrInvalid,
		},
		{
			name:    "unknown type",
			mutate:  func(i *Integration) { i.Type = "ftp" },
			wantErr: ErrInvalidType,
		},
		{
			name:    "unknown status",
			mutate:  func(i *Integration) { i.Status = "paused" },
			wantErr: ErrInvalid,
		},
		{
			name: "sync enabled on channel",
			mutate: func(i *Integration) {
				i.Type = TypeWebhook
				i.Sync.Enabled = true
			},
			wantErr: ErrNotRegistry,
		},
		{
			name:    "frequency below minimum",
			mutate:  func(i *Integration) { i.Sync.FrequencyMinutes = 0 },
			wantErr: ErrInvalidFrequency,
		},
		{
			name:    "frequency above maximum",
			mutate:  func(i *Integration) { i.Sync.FrequencyMinutes = MaxFrequencyMinutes + 1 },
			wantErr: ErrInvalidFrequency,
		},
		{
			name:    "unknown direction",
			mutate:  func(i *Integration) { i.Sync.Direction = "sideways" },
			wantErr: ErrInvalidDirection,
		},
		{
			name:    "unknown conflict policy",
			mutate:  func(i *Integration) { i.Sync.ConflictResolution = "coin_flip" },
			wantErr: ErrInvalidPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			integ := valid()
			tt.mutate(integ)

			err := Validate(integ)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("nil integration", func(t *testing.T) {
		if err := Validate(nil); !errors.Is(err, ErrInvalid) {
			t.Errorf("Validate(nil) = %v, want ErrInvalid", err)
		}
	})
}

func TestTypeClassification(t *testing.T) {
	for _, typ := range AllTypes() {
		if typ.IsRegistry() == typ.IsChannel() {
			t.Errorf("type %q: IsRegistry=%v IsChannel=%v, want exactly one", typ, typ.IsRegistry(), typ.IsChannel())
		}
	}
}

func TestSettingsAccessors(t *testing.T) {
	s := Settings{
		"host":    "broker.local",
		"port":    float64(1883),
		"retries": 3,
		"tls":     true,
	}

	if got := s.String("host"); got != "broker.local" {
		t.Errorf("String(host) = %q", got)
	}
	if got := s.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
	if got := s.Int("port"); got != 1883 {
		t.Errorf("Int(port) = %d, want 1883", got)
	}
	if got := s.Int("retries"); got != 3 {
		t.Errorf("Int(retries) = %d, want 3", got)
	}
	if !s.Bool("tls") {
		t.Error("Bool(tls) = false, want true")
	}
	if s.Bool("missing") {
		t.Error("Bool(missing) = true, want false")
	}
}
