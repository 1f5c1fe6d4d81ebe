// Package camera opens video sources through ffmpeg and keeps the camera registry.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"securo/internal/pipeline"
)

const (
	// DefaultLaptopDevice is the built-in camera
	DefaultLaptopDevice = "/dev/video0"
	// DefaultUSBDevice is the first attached camera
	DefaultUSBDevice = "/dev/video1"
)

// FFmpegConfig configures capture
type FFmpegConfig struct {
	Binary      string
	Width       int
	Height      int
	FPS         int
	ReadTimeout time.Duration // Zero waits forever
}

// FFmpegSource opens cameras by spawning ffmpeg with MJPEG output on stdout
type FFmpegSource struct {
	config FFmpegConfig
}

// NewFFmpegSource creates a frame source
func NewFFmpegSource(config FFmpegConfig) *FFmpegSource {
	if config.Binary == "" {
		config.Binary = "ffmpeg"
	}
	if config.FPS <= 0 {
		config.FPS = 15
	}
	return &FFmpegSource{config: config}
}

// Input resolves the ffmpeg input of a camera
func Input(camera pipeline.CameraDescriptor) (string, error) {
	switch camera.Source {
	case pipeline.SourceLaptopCam:
		if camera.URI != "" {
			return camera.URI, nil
		}
		return DefaultLaptopDevice, nil
	case pipeline.SourceUSBCam:
		if camera.URI != "" {
			return camera.URI, nil
		}
		return DefaultUSBDevice, nil
	case pipeline.SourceRTSP:
		if camera.URI == "" {
			return "", errors.New("rtsp camera without URI")
		}
		return camera.URI, nil
	}
	return "", fmt.Errorf("unknown source kind %q", camera.Source)
}

// Args builds the ffmpeg argument list for an input
func (s *FFmpegSource) Args(input string) []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", s.config.FPS),
		"-q:v", "5",
		"-",
	}

	var args []string
	switch {
	case strings.HasPrefix(input, "rtsp://"):
		args = []string{"-rtsp_transport", "tcp", "-i", input}
	case isNetworkSource(input), isFile(input):
		args = []string{"-i", input}
	default:
		// V4L2 device
		args = []string{"-f", "v4l2"}
		if s.config.Width > 0 && s.config.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", s.config.FPS), "-i", input)
	}
	return append(args, output...)
}

// Open starts ffmpeg for camera. The context bounds startup only.
func (s *FFmpegSource) Open(ctx context.Context, camera pipeline.CameraDescriptor) (pipeline.FrameHandle, error) {
	input, err := Input(camera)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}
	if !isNetworkSource(input) && !deviceExists(input) {
		return nil, fmt.Errorf("%w: device %s does not exist", pipeline.ErrSourceUnavailable, input)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}

	cmd := exec.Command(s.config.Binary, s.Args(input)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", pipeline.ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", pipeline.ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", pipeline.ErrSourceUnavailable, err)
	}

	// Keep the last stderr line for diagnostics
	var lastErr lastLine
	go lastErr.consume(stderr)

	log.Printf("[Camera] Started ffmpeg for camera %s (%s, %s)", camera.ID, camera.Source, input)

	release := func() error {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		err := cmd.Wait()
		if msg := lastErr.get(); msg != "" {
			log.Printf("[Camera] ffmpeg for camera %s exited: %s", camera.ID, msg)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose
			return nil
		}
		return err
	}

	reader := NewFrameReader(stdout, camera.ID, s.config.Width, s.config.Height)
	return newHandle(reader, release, s.config.ReadTimeout), nil
}

// handle is an open camera with an optional per-read deadline
type handle struct {
	reader  *FrameReader
	release func() error
	timeout time.Duration

	mu       sync.Mutex
	released bool
	once     sync.Once
	err      error
}

func newHandle(reader *FrameReader, release func() error, timeout time.Duration) *handle {
	return &handle{reader: reader, release: release, timeout: timeout}
}

// ReadFrame returns the next frame. With a read timeout, a stalled source is released
// and the read fails with pipeline.ErrFrameRead.
func (h *handle) ReadFrame() (*pipeline.Frame, error) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, fmt.Errorf("%w: source released", pipeline.ErrFrameRead)
	}

	if h.timeout <= 0 {
		return h.reader.Next()
	}

	type result struct {
		frame *pipeline.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := h.reader.Next()
		ch <- result{f, err}
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-timer.C:
		h.Release()
		return nil, fmt.Errorf("%w: no frame within %v", pipeline.ErrFrameRead, h.timeout)
	}
}

// Release stops the source; later calls return the first result
func (h *handle) Release() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		if h.release != nil {
			h.err = h.release()
		}
	})
	return h.err
}

// FirstFrame extracts one JPEG frame from a video file
func FirstFrame(ctx context.Context, binary, path string) ([]byte, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, binary,
		"-y",
		"-i", path,
		"-vframes", "1",
		"-f", "mjpeg",
		"-q:v", "2",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, tail(stderr.String(), 512))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	return stdout.Bytes(), nil
}

// isNetworkSource checks if input is an HTTP/RTSP URL
func isNetworkSource(input string) bool {
	return strings.HasPrefix(input, "http://") ||
		strings.HasPrefix(input, "https://") ||
		strings.HasPrefix(input, "rtsp://")
}

func isFile(input string) bool {
	if strings.HasPrefix(input, "/dev/") {
		return false
	}
	info, err := os.Stat(input)
	return err == nil && info.Mode().IsRegular()
}

// deviceExists checks the device or file is present and readable
func deviceExists(device string) bool {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

type lastLine struct {
	mu   sync.Mutex
	line string
}

func (l *lastLine) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			l.mu.Lock()
			l.line = text
			l.mu.Unlock()
		}
	}
}

func (l *lastLine) get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.line
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Ensure FFmpegSource implements pipeline.FrameSource
var _ pipeline.FrameSource = (*FFmpegSource)(nil)
