package scan

import (
	"testing"

	"github.com/d1childress/neo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan_Range(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{Host: "example.com", StartPort: 20, EndPort: 25})
	require.NoError(t, err)

	assert.Equal(t, "example.com", plan.Host())
	assert.Equal(t, []int{20, 21, 22, 23, 24, 25}, plan.Ports())
	assert.Equal(t, 6, plan.Len())
}

func TestNewPlan_FullRangeCount(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{Host: "10.0.0.1", StartPort: 1, EndPort: 65535})
	require.NoError(t, err)

	require.Equal(t, 65535, plan.Len())
	assert.Equal(t, 1, plan.Ports()[0])
	assert.Equal(t, 65535, plan.Ports()[plan.Len()-1])
}

func TestNewPlan_SinglePort(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{Host: "10.0.0.1", StartPort: 443, EndPort: 443})
	require.NoError(t, err)
	assert.Equal(t, []int{443}, plan.Ports())
}

func TestNewPlan_ExplicitSet(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{
		Host:  "10.0.0.1",
		Ports: []int{443, 22, 80, 22, 443},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{22, 80, 443}, plan.Ports(), "explicit sets are sorted and de-duplicated")
}

func TestNewPlan_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		target  models.ScanTarget
		wantErr error
	}{
		{
			name:    "empty host",
			target:  models.ScanTarget{Host: "  ", StartPort: 1, EndPort: 10},
			wantErr: ErrEmptyHost,
		},
		{
			name:    "start below range",
			target:  models.ScanTarget{Host: "h", StartPort: 0, EndPort: 10},
			wantErr: ErrPortOutOfRange,
		},
		{
			name:    "end above range",
			target:  models.ScanTarget{Host: "h", StartPort: 1, EndPort: 70000},
			wantErr: ErrPortOutOfRange,
		},
		{
			name:    "start exceeds end",
			target:  models.ScanTarget{Host: "h", StartPort: 100, EndPort: 50},
			wantErr: ErrPortOrder,
		},
		{
			name:    "explicit port out of range",
			target:  models.ScanTarget{Host: "h", Ports: []int{80, 0}},
			wantErr: ErrPortOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.target)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlan_Chunks(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{Host: "h", StartPort: 1, EndPort: 125})
	require.NoError(t, err)

	chunks := plan.Chunks(50)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 50)
	assert.Len(t, chunks[1], 50)
	assert.Len(t, chunks[2], 25)

	// Order is preserved across chunk boundaries.
	assert.Equal(t, 50, chunks[0][49])
	assert.Equal(t, 51, chunks[1][0])
	assert.Equal(t, 125, chunks[2][24])
}

func TestPlan_ChunksDefaultSize(t *testing.T) {
	plan, err := NewPlan(models.ScanTarget{Host: "h", StartPort: 1, EndPort: 60})
	require.NoError(t, err)

	chunks := plan.Chunks(0)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 50)
}

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr error
	}{
		{name: "single", spec: "22", want: []int{22}},
		{name: "list", spec: "443,22,80", want: []int{22, 80, 443}},
		{name: "range", spec: "8000-8003", want: []int{8000, 8001, 8002, 8003}},
		{name: "mixed", spec: "22, 80, 8000-8002", want: []int{22, 80, 8000, 8001, 8002}},
		{name: "overlapping dedupe", spec: "80-82,81", want: []int{80, 81, 82}},
		{name: "empty", spec: "  ", wantErr: ErrEmptyPortSpec},
		{name: "empty token", spec: "22,,80", wantErr: ErrInvalidPortSpec},
		{name: "not a number", spec: "ssh", wantErr: ErrInvalidPortSpec},
		{name: "out of range", spec: "70000", wantErr: ErrPortOutOfRange},
		{name: "range out of bounds", spec: "60000-70000", wantErr: ErrPortOutOfRange},
		{name: "reversed range", spec: "100-50", wantErr: ErrPortOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePortSpec(tt.spec)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
