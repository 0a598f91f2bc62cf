package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

// FrameLogger logs every frame at debug level, hex encoded and tagged with
// its direction and message type.
func FrameLogger(logger *slog.Logger) Middleware {
	return MiddlewareFunc(func(dir Direction, frame []byte) []byte {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return frame
		}
		logger.Debug("frame",
			"dir", dir.String(),
			"type", frameType(frame),
			"bytes", fmt.Sprintf("% X", frame),
		)
		return frame
	})
}

// frameType names the message type of frame without decoding it.
func frameType(frame []byte) string {
	hdr := 3
	if len(frame) > 0 && frame[0]&0x80 != 0 {
		hdr = 4
	}
	if len(frame) < hdr {
		return "short"
	}
	return lwp.MessageType(frame[hdr-1]).String()
}

// FrameStats holds traffic counters collected by a FrameCounter.
type FrameStats struct {
	FramesTx     uint64
	FramesRx     uint64
	BytesTx      uint64
	BytesRx      uint64
	LastActivity time.Time
}

// FrameCounter counts frames and bytes per direction.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type FrameCounter struct {
	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	bytesTx      atomic.Uint64
	bytesRx      atomic.Uint64
	lastActivity atomic.Int64
}

var _ Middleware = (*FrameCounter)(nil)

// Handle implements Middleware.
func (c *FrameCounter) Handle(dir Direction, frame []byte) []byte {
	if dir == Inbound {
		c.framesRx.Add(1)
		c.bytesRx.Add(uint64(len(frame)))
	} else {
		c.framesTx.Add(1)
		c.bytesTx.Add(uint64(len(frame)))
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return frame
}

// Stats returns the current counters.
func (c *FrameCounter) Stats() FrameStats {
	s := FrameStats{
		FramesTx: c.framesTx.Load(),
		FramesRx: c.framesRx.Load(),
		BytesTx:  c.bytesTx.Load(),
		BytesRx:  c.bytesRx.Load(),
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	return s
}
