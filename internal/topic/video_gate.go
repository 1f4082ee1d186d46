package topic

import (
	"fmt"
	"log/slog"

	"github.com/mpago/mpago/pkg/mpaerr"
	"github.com/mpago/mpago/pkg/wire"
)

// WriteCameraFrame publishes a camera frame, applying the encoded-video
// ordering discipline of spec §4.5 when meta.Format is H.264 or H.265.
// For all other formats the frame is broadcast unconditionally as a
// metadata-then-payload pair via write_list, keeping the two contiguous in
// the kernel FIFO from the reader's perspective (spec §4.5 closing
// paragraph).
func (t *Topic) WriteCameraFrame(meta wire.CameraImageMetadata, payload []byte) error {
	meta.MagicNumber = wire.CameraMagicNumber
	format := wire.ImageFormat(meta.Format)

	if !format.IsEncodedVideo() {
		metaBytes, err := wire.MarshalCameraMetadata(meta)
		if err != nil {
			return err
		}
		t.WriteList([][]byte{metaBytes, payload})
		return nil
	}

	kind := wire.ClassifyEncodedFrame(format, payload)
	metaBytes, err := wire.MarshalCameraMetadata(meta)
	if err != nil {
		return err
	}

	switch kind {
	case wire.FrameKindHeader:
		t.mu.Lock()
		t.header = &videoHeader{meta: meta, payload: append([]byte(nil), payload...)}
		t.mu.Unlock()
		t.log.Debug("stored sticky encoded-video header")
		return nil

	case wire.FrameKindI:
		for _, s := range t.liveSlots() {
			if err := t.writeListToSlot(s, [][]byte{metaBytes, payload}); err != nil {
				t.log.Debug("write I-frame to slot failed", slog.Int("slot", s.index), slog.String("error", err.Error()))
				continue
			}
			s.mu.Lock()
			s.acceptingPFrames = true
			s.mu.Unlock()
		}
		return nil

	case wire.FrameKindP:
		for _, s := range t.liveSlots() {
			s.mu.Lock()
			accepting := s.acceptingPFrames
			s.mu.Unlock()
			if !accepting {
				continue
			}
			if err := t.writeListToSlot(s, [][]byte{metaBytes, payload}); err != nil {
				t.log.Debug("write P-frame to slot failed", slog.Int("slot", s.index), slog.String("error", err.Error()))
			}
		}
		return nil

	default:
		t.log.Debug("dropping frame with unrecognized NAL type", slog.Int("fifth_byte", nthByteOrNeg1(payload, 4)))
		return fmt.Errorf("topic: %w", mpaerr.ErrInvalidArgument)
	}
}

func nthByteOrNeg1(b []byte, n int) int {
	if n < 0 || n >= len(b) {
		return -1
	}
	return int(b[n])
}

// deliverStickyHeader replays the topic's last stored encoded-video header
// to a newly attached slot before any further frames, so a late joiner
// never observes a P-frame before an I-frame (spec §4.3 step 8, §4.5
// "Rationale").
func (t *Topic) deliverStickyHeader(s *Slot, h *videoHeader) {
	metaBytes, err := wire.MarshalCameraMetadata(h.meta)
	if err != nil {
		t.log.Warn("failed to marshal sticky header for replay", slog.String("error", err.Error()))
		return
	}
	if err := t.writeListToSlot(s, [][]byte{metaBytes, h.payload}); err != nil {
		t.log.Debug("sticky header replay failed", slog.Int("slot", s.index), slog.String("error", err.Error()))
	}
}

// WriteStereoFrame publishes a stereo frame pair as three contiguous
// chunks: metadata, left half, right half (spec §4.6).
func (t *Topic) WriteStereoFrame(meta wire.StereoMetadata, left, right []byte) error {
	if len(left) != len(right) {
		return fmt.Errorf("topic: stereo halves of unequal length (%d vs %d): %w", len(left), len(right), mpaerr.ErrInvalidArgument)
	}
	meta.MagicNumber = wire.CameraMagicNumber
	meta.SizeBytes = int32(len(left) + len(right))

	metaBytes, err := wire.MarshalCameraMetadata(meta)
	if err != nil {
		return err
	}
	t.WriteList([][]byte{metaBytes, left, right})
	return nil
}

// WritePointCloud publishes a point-cloud record: metadata then payload,
// with the payload size derived from (n_points, format) via the
// per-format bytes-per-point table (spec §4.6).
func (t *Topic) WritePointCloud(meta wire.PointCloudMetadata, payload []byte) error {
	meta.MagicNumber = wire.PointCloudMagicNumber

	want, err := wire.PayloadSize(meta)
	if err != nil {
		return err
	}
	if want != len(payload) {
		return fmt.Errorf("topic: point cloud payload length %d does not match expected %d: %w", len(payload), want, mpaerr.ErrInvalidArgument)
	}

	metaBytes, err := wire.MarshalPointCloudMetadata(meta)
	if err != nil {
		return err
	}
	t.WriteList([][]byte{metaBytes, payload})
	return nil
}
