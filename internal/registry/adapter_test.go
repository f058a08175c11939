package registry

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/netneural/sync-core/internal/integration"
)

func testFactory() *Factory {
	return NewFactory(&http.Client{Timeout: 5 * time.Second}, 5*time.Second)
}

func TestFactoryNew(t *testing.T) {
	factory := testFactory()

	tests := []struct {
		name     string
		integ    *integration.Integration
		wantErr  error
		wantType string
	}{
		{
			name: "golioth",
			integ: &integration.Integration{
				ID:       "int-01",
				Type:     integration.TypeGolioth,
				Settings: integration.Settings{"api_key": "k", "project_id": "p"},
			},
		},
		{
			name: "golioth missing settings",
			integ: &integration.Integration{
				ID:       "int-02",
				Type:     integration.TypeGolioth,
				Settings: integration.Settings{"api_key": "k"},
			},
			wantErr: ErrConfig,
		},
		{
			name: "aws iot",
			integ: &integration.Integration{
				ID:   "int-03",
				Type: integration.TypeAWSIoT,
				Settings: integration.Settings{
					"access_key_id":     "AKIA",
					"secret_access_key": "secret",
					"region":            "eu-west-2",
				},
			},
		},
		{
			name: "aws iot missing region",
			integ: &integration.Integration{
				ID:   "int-04",
				Type: integration.TypeAWSIoT,
				Settings: integration.Settings{
					"access_key_id":     "AKIA",
					"secret_access_key": "secret",
				},
			},
			wantErr: ErrConfig,
		},
		{
			name: "azure iot",
			integ: &integration.Integration{
				ID:   "int-05",
				Type: integration.TypeAzureIoT,
				Settings: integration.Settings{
					"host":        "hub.azure-devices.net",
					"policy_name": "iothubowner",
					"policy_key":  "c2VjcmV0LWtleQ==",
				},
			},
		},
		{
			name: "azure iot bad key encoding",
			integ: &integration.Integration{
				ID:   "int-06",
				Type: integration.TypeAzureIoT,
				Settings: integration.Settings{
					"host":        "hub.azure-devices.net",
					"policy_name": "iothubowner",
					"policy_key":  "not base64!!",
				},
			},
			wantErr: ErrConfig,
		},
		{
			name: "mqtt",
			integ: &integration.Integration{
				ID:       "int-07",
				Type:     integration.TypeMQTT,
				Settings: integration.Settings{"host": "broker.local"},
			},
		},
		{
			name: "mqtt missing host",
			integ: &integration.Integration{
				ID:       "int-08",
				Type:     integration.TypeMQTT,
				Settings: integration.Settings{},
			},
			wantErr: ErrConfig,
		},
		{
			name: "channel type rejected",
			integ: &integration.Integration{
				ID:       "int-09",
				Type:     integration.TypeSlack,
				Settings: integration.Settings{},
			},
			wantErr: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := factory.New(tt.integ)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if adapter == nil {
				t.Fatal("New() returned nil adapter")
			}
		})
	}
}
