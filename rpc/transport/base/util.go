package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
)

const (
	// frameHeaderSize is shardId (8) + requestID (8) + content length (4)
	frameHeaderSize = 20

	// DefaultMaxFrameSize bounds the payload of a single frame if the config sets no limit.
	// Snapshots of Save and Load travel in one frame, so it is generous.
	DefaultMaxFrameSize = 256 << 20
)

// errFrameTooLarge is returned by readFrame for frames above the size limit.
// The stream can't be resynchronized afterward, the connection must be dropped.
type errFrameTooLarge struct {
	size, limit uint32
}

func (e errFrameTooLarge) Error() string {
	return fmt.Sprintf("frame of %d bytes exceeds the limit of %d bytes", e.size, e.limit)
}

// maxFrameSize returns limit, or DefaultMaxFrameSize if limit is not set
func maxFrameSize(limit int) uint32 {
	if limit <= 0 || uint64(limit) > math.MaxUint32 {
		return DefaultMaxFrameSize
	}
	return uint32(limit)
}

// writeFrame writes a frame with the format:
// - 8 bytes: shardId (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(w io.Writer, shardID uint64, requestID uint64, data []byte) error {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return fmt.Errorf("payload of %d bytes does not fit into a frame", len(data))
	}

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	// net.Buffers uses writev for connections
	b := net.Buffers{header, data}
	_, err := b.WriteTo(w)
	return err
}

// readFrame reads a frame using the provided buffer.
// If the buffer is too small, a temporary buffer is allocated for the payload.
// Frames with a payload above limit are rejected before anything is allocated.
func readFrame(r io.Reader, buf []byte, limit uint32) (uint64, uint64, []byte, error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	if _, err := io.ReadFull(r, buf[:frameHeaderSize]); err != nil {
		return 0, 0, nil, err
	}

	shardID := binary.BigEndian.Uint64(buf[:8])
	requestID := binary.BigEndian.Uint64(buf[8:16])
	contentLength := binary.BigEndian.Uint32(buf[16:20])

	if contentLength == 0 {
		return shardID, requestID, []byte{}, nil
	}
	if contentLength > limit {
		return 0, 0, nil, errFrameTooLarge{size: contentLength, limit: limit}
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}

	if _, err := io.ReadFull(r, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}

	return shardID, requestID, buf[:contentLength], nil
}
