package camera

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"securo/internal/pipeline"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxPending bounds the bytes buffered while looking for a frame boundary
const maxPending = 16 << 20

// FrameReader splits a concatenated MJPEG byte stream (ffmpeg image2pipe) into frames
type FrameReader struct {
	src      io.Reader
	cameraID string
	width    int
	height   int
	pending  []byte
	chunk    []byte
	seq      uint64
}

// NewFrameReader reads frames for cameraID from r
func NewFrameReader(r io.Reader, cameraID string, width, height int) *FrameReader {
	return &FrameReader{
		src:      r,
		cameraID: cameraID,
		width:    width,
		height:   height,
		pending:  make([]byte, 0, 1024*1024),
		chunk:    make([]byte, 32*1024),
	}
}

// Next blocks until a complete JPEG is available.
// A clean end of input returns an error wrapping pipeline.ErrEndOfStream.
func (fr *FrameReader) Next() (*pipeline.Frame, error) {
	for {
		if data := extractJPEGFrame(&fr.pending); data != nil {
			fr.seq++
			return &pipeline.Frame{
				CameraID:  fr.cameraID,
				Data:      data,
				Seq:       fr.seq,
				Timestamp: time.Now(),
				Width:     fr.width,
				Height:    fr.height,
			}, nil
		}
		if len(fr.pending) > maxPending {
			return nil, fmt.Errorf("no JPEG boundary within %d bytes", maxPending)
		}

		n, err := fr.src.Read(fr.chunk)
		fr.pending = append(fr.pending, fr.chunk[:n]...)
		if err != nil {
			if n > 0 {
				// Drain what was read before reporting
				if data := extractJPEGFrame(&fr.pending); data != nil {
					fr.seq++
					return &pipeline.Frame{CameraID: fr.cameraID, Data: data, Seq: fr.seq, Timestamp: time.Now(), Width: fr.width, Height: fr.height}, nil
				}
			}
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("camera %s: %w", fr.cameraID, pipeline.ErrEndOfStream)
			}
			return nil, err
		}
	}
}

// extractJPEGFrame removes and returns the first complete JPEG in buffer, or nil.
// Bytes before the start marker are discarded.
func extractJPEGFrame(buffer *[]byte) []byte {
	buf := *buffer
	start := bytes.Index(buf, jpegSOI)
	if start == -1 {
		// Keep a trailing 0xFF, it may be the first half of a marker
		if n := len(buf); n > 0 && buf[n-1] == 0xFF {
			*buffer = append(buf[:0], 0xFF)
		} else {
			*buffer = buf[:0]
		}
		return nil
	}

	end := bytes.Index(buf[start+2:], jpegEOI)
	if end == -1 {
		if start > 0 {
			*buffer = append(buf[:0], buf[start:]...)
		}
		return nil
	}
	end += start + 2 + len(jpegEOI)

	frame := make([]byte, end-start)
	copy(frame, buf[start:end])
	*buffer = append(buf[:0], buf[end:]...)
	return frame
}
