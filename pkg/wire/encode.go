package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MarshalCameraMetadata encodes m to its packed wire representation.
// encoding/binary writes struct fields in declaration order with no
// padding, matching the C library's __attribute__((packed)) layout.
func MarshalCameraMetadata(m CameraImageMetadata) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(CameraImageMetadataSize)
	if err := binary.Write(buf, binary.LittleEndian, m); err != nil {
		return nil, fmt.Errorf("wire: marshal camera metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalCameraMetadata decodes a CameraImageMetadata from b.
func UnmarshalCameraMetadata(b []byte) (CameraImageMetadata, error) {
	var m CameraImageMetadata
	if len(b) < CameraImageMetadataSize {
		return m, fmt.Errorf("wire: camera metadata short read: got %d want %d", len(b), CameraImageMetadataSize)
	}
	r := bytes.NewReader(b[:CameraImageMetadataSize])
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return m, fmt.Errorf("wire: unmarshal camera metadata: %w", err)
	}
	return m, nil
}

// MarshalPointCloudMetadata encodes m to its packed wire representation.
func MarshalPointCloudMetadata(m PointCloudMetadata) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(PointCloudMetadataSize)
	if err := binary.Write(buf, binary.LittleEndian, m); err != nil {
		return nil, fmt.Errorf("wire: marshal point cloud metadata: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalPointCloudMetadata decodes a PointCloudMetadata from b.
func UnmarshalPointCloudMetadata(b []byte) (PointCloudMetadata, error) {
	var m PointCloudMetadata
	if len(b) < PointCloudMetadataSize {
		return m, fmt.Errorf("wire: point cloud metadata short read: got %d want %d", len(b), PointCloudMetadataSize)
	}
	r := bytes.NewReader(b[:PointCloudMetadataSize])
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return m, fmt.Errorf("wire: unmarshal point cloud metadata: %w", err)
	}
	return m, nil
}
