// Package wire defines the on-the-wire record framing that mpago's
// camera/stereo/point-cloud publish helpers prepend to payloads, along with
// the encoded-video NAL classification table used for header/I/P gating.
//
// Every record these helpers write to a client data FIFO begins with a
// fixed-size metadata struct carrying a magic number, so a reader that
// loses sync can resync on the next occurrence of the magic number.
package wire

// CameraMagicNumber spells "VOXL" in ASCII and prefixes every camera frame
// record (and, by convention in the original library, every point-cloud
// record too — both share the same magic number).
const CameraMagicNumber uint32 = 0x564F584C

// PointCloudMagicNumber matches CameraMagicNumber; kept as a distinct name
// at the call site so callers document intent even though the value is
// shared.
const PointCloudMagicNumber uint32 = CameraMagicNumber

// ImageFormat identifies the pixel/encoding layout of a camera frame.
type ImageFormat int16

const (
	ImageFormatRAW8        ImageFormat = 0
	ImageFormatNV12        ImageFormat = 1
	ImageFormatStereoRAW8  ImageFormat = 2
	ImageFormatH264        ImageFormat = 3
	ImageFormatH265        ImageFormat = 4
	ImageFormatRAW16       ImageFormat = 5
	ImageFormatNV21        ImageFormat = 6
	ImageFormatJPG         ImageFormat = 7
	ImageFormatYUV422      ImageFormat = 8
	ImageFormatYUV420      ImageFormat = 9
	ImageFormatRGB         ImageFormat = 10
	ImageFormatFloat32     ImageFormat = 11
	ImageFormatStereoNV21  ImageFormat = 12
	ImageFormatStereoRGB   ImageFormat = 13
	ImageFormatYUV422UYVY  ImageFormat = 14
	ImageFormatStereoNV12  ImageFormat = 15
)

// IsEncodedVideo reports whether the format requires header/I-frame/P-frame
// gating before fan-out (spec §4.5).
func (f ImageFormat) IsEncodedVideo() bool {
	return f == ImageFormatH264 || f == ImageFormatH265
}

// CameraImageMetadata is the fixed-size header written before every camera
// frame payload. Field order and sizes mirror the packed C struct this
// module's wire format is grounded on, so a byte-identical struct can be
// decoded on either side of the pipe with encoding/binary.
type CameraImageMetadata struct {
	MagicNumber uint32
	TimestampNs int64
	FrameID     int32
	Width       int16
	Height      int16
	SizeBytes   int32
	Stride      int32
	ExposureNs  int32
	Gain        int16
	Format      int16
	Framerate   int16
	Reserved    int16
}

// CameraImageMetadataSize is the wire size of CameraImageMetadata once
// packed (no padding): 4+8+4+2+2+4+4+4+2+2+2+2 bytes.
const CameraImageMetadataSize = 4 + 8 + 4 + 2 + 2 + 4 + 4 + 4 + 2 + 2 + 2 + 2

// FrameKind classifies an H.264/H.265 payload for the ordering discipline
// in spec §4.5.
type FrameKind int

const (
	FrameKindUnknown FrameKind = iota
	FrameKindHeader
	FrameKindI
	FrameKindP
)

// nalTypeTables map the fifth byte of an Annex-B framed payload (4-byte
// start code followed by the NAL header byte) to a frame kind, per codec.
var h264NALTable = map[byte]FrameKind{
	0x67: FrameKindHeader,
	0x65: FrameKindI,
	0x41: FrameKindP,
}

var h265NALTable = map[byte]FrameKind{
	0x40: FrameKindHeader,
	0x26: FrameKindI,
	0x02: FrameKindP,
}

// ClassifyEncodedFrame inspects the fifth byte of an Annex-B framed
// payload and returns its frame kind for the given codec. It assumes a
// 4-byte start-code prefix (00 00 00 01) precedes the NAL header byte;
// length-prefixed (AVCC) payloads will misclassify and callers must not
// feed them to this function (spec §9, "Encoded-video classification").
func ClassifyEncodedFrame(format ImageFormat, payload []byte) FrameKind {
	if len(payload) < 5 {
		return FrameKindUnknown
	}
	b := payload[4]
	switch format {
	case ImageFormatH264:
		if kind, ok := h264NALTable[b]; ok {
			return kind
		}
	case ImageFormatH265:
		if kind, ok := h265NALTable[b]; ok {
			return kind
		}
	}
	return FrameKindUnknown
}

// StereoMetadata is CameraImageMetadata reused for stereo pairs; SizeBytes
// covers both the left and right half combined, per the original format's
// convention for IMAGE_FORMAT_STEREO_* variants.
type StereoMetadata = CameraImageMetadata
