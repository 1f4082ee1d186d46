package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadSize(t *testing.T) {
	tests := []struct {
		name    string
		format  PointCloudFormat
		points  uint32
		want    int
		wantErr bool
	}{
		{"xyz", PointCloudFormatFloatXYZ, 100, 1200, false},
		{"xyzc", PointCloudFormatFloatXYZC, 100, 1600, false},
		{"xyzrgb", PointCloudFormatFloatXYZRGB, 10, 150, false},
		{"xyzcrgb", PointCloudFormatFloatXYZCRGB, 10, 190, false},
		{"xy", PointCloudFormatFloatXY, 10, 80, false},
		{"xyc", PointCloudFormatFloatXYC, 10, 120, false},
		{"unknown format", PointCloudFormat(99), 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PayloadSize(PointCloudMetadata{Format: tt.format, NPoints: tt.points})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointCloudMetadataRoundTrip(t *testing.T) {
	m := PointCloudMetadata{
		MagicNumber: PointCloudMagicNumber,
		TimestampNs: 99,
		NPoints:     500,
		Format:      PointCloudFormatFloatXYZRGB,
		ID:          7,
	}
	copy(m.ServerName[:], "tof0")

	b, err := MarshalPointCloudMetadata(m)
	require.NoError(t, err)
	assert.Len(t, b, PointCloudMetadataSize)

	got, err := UnmarshalPointCloudMetadata(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
