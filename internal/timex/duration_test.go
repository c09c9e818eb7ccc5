package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", in: `{"d":"1m30s"}`, want: 90 * time.Second},
		{name: "nanoseconds", in: `{"d":2000000000}`, want: 2 * time.Second},
		{name: "bad string", in: `{"d":"soon"}`, wantErr: true},
		{name: "bad type", in: `{"d":true}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				D Duration `json:"d"`
			}
			err := json.Unmarshal([]byte(tt.in), &v)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, v.D.Duration)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 250ms\nb: 1000\n"), &v))
	require.Equal(t, 250*time.Millisecond, v.A.Duration)
	require.Equal(t, time.Microsecond, v.B.Duration)

	require.Error(t, yaml.Unmarshal([]byte("a: later\n"), &v))
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	b, err := json.Marshal(Duration{Duration: 3 * time.Second})
	require.NoError(t, err)
	require.Equal(t, `"3s"`, string(b))
}
