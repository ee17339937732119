package proxmox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexInt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{name: "number", in: `42`, want: 42},
		{name: "quoted number", in: `"42"`, want: 42},
		{name: "float notation", in: `42.0`, want: 42},
		{name: "quoted float", in: `"42.9"`, want: 42},
		{name: "null", in: `null`, want: 0},
		{name: "empty string", in: `""`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f flexInt
			require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
			assert.Equal(t, tt.want, int64(f))
		})
	}
}

func TestFlexFloat(t *testing.T) {
	var f flexFloat
	require.NoError(t, json.Unmarshal([]byte(`0.25`), &f))
	assert.InDelta(t, 0.25, float64(f), 1e-9)

	require.NoError(t, json.Unmarshal([]byte(`"0.5"`), &f))
	assert.InDelta(t, 0.5, float64(f), 1e-9)
}

func TestMemValue(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantUsed  int64
		wantTotal int64
	}{
		{name: "flat bytes", in: `1024`, wantUsed: 1024, wantTotal: 0},
		{name: "quoted flat", in: `"2048"`, wantUsed: 2048, wantTotal: 0},
		{name: "nested used/total", in: `{"used": 512, "total": 4096}`, wantUsed: 512, wantTotal: 4096},
		{
			name:      "nested free/total derives used",
			in:        `{"free": 3072, "total": 4096}`,
			wantUsed:  1024,
			wantTotal: 4096,
		},
		{name: "null", in: `null`, wantUsed: 0, wantTotal: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m memValue
			require.NoError(t, json.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.wantUsed, m.Used)
			assert.Equal(t, tt.wantTotal, m.Total)
		})
	}
}
