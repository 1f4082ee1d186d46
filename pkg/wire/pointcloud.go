package wire

import "fmt"

// PointCloudFormat identifies the per-point byte layout of a point-cloud
// record.
type PointCloudFormat uint32

const (
	PointCloudFormatFloatXYZ     PointCloudFormat = 0 // 12 bytes/point
	PointCloudFormatFloatXYZC    PointCloudFormat = 1 // 16 bytes/point
	PointCloudFormatFloatXYZRGB  PointCloudFormat = 2 // 15 bytes/point
	PointCloudFormatFloatXYZCRGB PointCloudFormat = 3 // 19 bytes/point
	PointCloudFormatFloatXY      PointCloudFormat = 4 //  8 bytes/point
	PointCloudFormatFloatXYC     PointCloudFormat = 5 // 12 bytes/point
)

// bytesPerPoint maps each point-cloud format to its per-point byte size.
var bytesPerPoint = map[PointCloudFormat]int{
	PointCloudFormatFloatXYZ:     12,
	PointCloudFormatFloatXYZC:    16,
	PointCloudFormatFloatXYZRGB:  15,
	PointCloudFormatFloatXYZCRGB: 19,
	PointCloudFormatFloatXY:      8,
	PointCloudFormatFloatXYC:     12,
}

// PointCloudMetadata is the fixed-size header written before every
// point-cloud payload.
type PointCloudMetadata struct {
	MagicNumber uint32
	TimestampNs int64
	NPoints     uint32
	Format      PointCloudFormat
	ID          uint32
	ServerName  [32]byte
	Reserved    uint32
}

// PointCloudMetadataSize is the wire size of PointCloudMetadata.
const PointCloudMetadataSize = 4 + 8 + 4 + 4 + 4 + 32 + 4

// PayloadSize returns the number of payload bytes that must follow a
// point-cloud metadata struct on the wire, derived from n_points and the
// format's per-point byte size. Returns an error for an unrecognized
// format, mirroring pipe_point_cloud_meta_to_size_bytes's -1 return.
func PayloadSize(meta PointCloudMetadata) (int, error) {
	perPoint, ok := bytesPerPoint[meta.Format]
	if !ok {
		return 0, fmt.Errorf("wire: unknown point cloud format %d", meta.Format)
	}
	return perPoint * int(meta.NPoints), nil
}
