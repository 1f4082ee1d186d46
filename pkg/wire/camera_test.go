package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyEncodedFrame(t *testing.T) {
	startCode := []byte{0x00, 0x00, 0x00, 0x01}

	tests := []struct {
		name   string
		format ImageFormat
		fifth  byte
		want   FrameKind
	}{
		{"h264 header", ImageFormatH264, 0x67, FrameKindHeader},
		{"h264 i-frame", ImageFormatH264, 0x65, FrameKindI},
		{"h264 p-frame", ImageFormatH264, 0x41, FrameKindP},
		{"h264 unknown", ImageFormatH264, 0xAB, FrameKindUnknown},
		{"h265 header", ImageFormatH265, 0x40, FrameKindHeader},
		{"h265 i-frame", ImageFormatH265, 0x26, FrameKindI},
		{"h265 p-frame", ImageFormatH265, 0x02, FrameKindP},
		{"h265 unknown", ImageFormatH265, 0xAB, FrameKindUnknown},
		{"unsupported format", ImageFormatRAW8, 0x67, FrameKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := append(append([]byte{}, startCode...), tt.fifth)
			got := ClassifyEncodedFrame(tt.format, payload)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("short payload is unknown", func(t *testing.T) {
		assert.Equal(t, FrameKindUnknown, ClassifyEncodedFrame(ImageFormatH264, []byte{0x00, 0x00}))
	})
}

func TestIsEncodedVideo(t *testing.T) {
	assert.True(t, ImageFormatH264.IsEncodedVideo())
	assert.True(t, ImageFormatH265.IsEncodedVideo())
	assert.False(t, ImageFormatRAW8.IsEncodedVideo())
}

func TestCameraMetadataRoundTrip(t *testing.T) {
	m := CameraImageMetadata{
		MagicNumber: CameraMagicNumber,
		TimestampNs: 1234567890,
		FrameID:     42,
		Width:       1920,
		Height:      1080,
		SizeBytes:   4096,
		Stride:      1920,
		ExposureNs:  16000,
		Gain:        100,
		Format:      int16(ImageFormatH264),
		Framerate:   30,
	}

	b, err := MarshalCameraMetadata(m)
	require.NoError(t, err)
	assert.Len(t, b, CameraImageMetadataSize)

	got, err := UnmarshalCameraMetadata(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestUnmarshalCameraMetadataShortRead(t *testing.T) {
	_, err := UnmarshalCameraMetadata([]byte{1, 2, 3})
	assert.Error(t, err)
}
