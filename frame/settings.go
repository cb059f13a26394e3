package frame

import (
	"time"

	"github.com/google/uuid"
)

// DefaultJPEGQuality is used when settings do not specify one.
const DefaultJPEGQuality = 95

// Settings carries the per-frame processing parameters shared by every
// node that handles the same originating frame.
//
// Settings are immutable after creation: the pipeline passes the same
// *Settings to all branches concurrently and no stage may modify it.
type Settings struct {
	// RequestID identifies the capture request this frame belongs to.
	RequestID uuid.UUID

	// CropRegion is the digital zoom window in active-pixel-array
	// coordinates. An empty region means no zoom.
	CropRegion Rect

	// Rotation is the requested output rotation in degrees (0, 90, 270).
	Rotation int

	// JPEGQuality is the encoder quality (1-100) for blob streams.
	JPEGQuality int

	// Timestamp is the sensor capture time of the frame.
	Timestamp time.Time
}

// NewSettings creates settings for one captured frame with a fresh
// request identity.
func NewSettings(crop Rect, rotation int) *Settings {
	return &Settings{
		RequestID:   uuid.New(),
		CropRegion:  crop,
		Rotation:    rotation,
		JPEGQuality: DefaultJPEGQuality,
		Timestamp:   time.Now(),
	}
}
