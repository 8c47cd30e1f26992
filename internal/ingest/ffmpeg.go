package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frameData []byte) error

// FFmpegExtractor grabs still JPEG frames from a camera feed using FFmpeg.
type FFmpegExtractor struct {
	log *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

func NewFFmpegExtractor(log *zap.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{log: log}
}

// StartExtraction runs FFmpeg emitting one frame per interval, scaled to
// width. It calls the callback for each extracted JPEG frame and blocks
// until the context is cancelled or the feed ends.
func (f *FFmpegExtractor) StartExtraction(ctx context.Context, streamURL string, interval time.Duration, width int, callback FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	// Add protocol-specific timeout/reconnect args
	if strings.HasPrefix(streamURL, "rtsp://") || strings.HasPrefix(streamURL, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000",  // 5s RTSP socket timeout (microseconds)
			"-timeout", "5000000",   // 5s overall timeout (microseconds)
		)
	} else if strings.HasPrefix(streamURL, "http://") || strings.HasPrefix(streamURL, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000", // 10s (microseconds)
		)
	}

	args = append(args,
		"-i", streamURL,
		"-vf", ffmpegFilter(interval, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// Log stderr in background
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			f.log.Warn("ffmpeg stderr", zap.String("output", scanner.Text()))
		}
	}()

	// Read JPEG frames from stdout
	if err := readJPEGFrames(ctx, stdout, callback, f.log); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read frames: %w", err)
	}

	return cmd.Wait()
}

// ffmpegFilter builds the -vf chain. Intervals are expressed as a
// fractional frame rate, e.g. fps=1/10 for one frame every ten seconds.
func ffmpegFilter(interval time.Duration, width int) string {
	ms := interval.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	rate := fmt.Sprintf("1000/%d", ms)
	if ms%1000 == 0 {
		rate = fmt.Sprintf("1/%d", ms/1000)
	}
	if width <= 0 {
		return "fps=" + rate
	}
	return fmt.Sprintf("fps=%s,scale=%d:-1", rate, width)
}

// Stop terminates the FFmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// readJPEGFrames reads a stream of concatenated JPEG images.
// Tolerates initial EOF while ffmpeg is still connecting (up to 5 seconds).
func readJPEGFrames(ctx context.Context, r io.Reader, callback FrameCallback, log *zap.Logger) error {
	reader := bufio.NewReaderSize(r, 512*1024) // 512KB buffer
	framesRead := 0
	const maxStartupRetries = 50 // 50 * 100ms = 5s max wait for first frame
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Find JPEG start marker: FF D8
		err := findJPEGStart(reader)
		if err != nil {
			if err == io.EOF {
				if framesRead == 0 && startupRetries < maxStartupRetries {
					startupRetries++
					time.Sleep(100 * time.Millisecond)
					continue
				}
				if framesRead > 0 {
					return nil // stream ended normally after producing frames
				}
				return fmt.Errorf("no frames received from ffmpeg (waited %.1fs)", float64(startupRetries)*0.1)
			}
			return err
		}

		// Read until JPEG end marker: FF D9
		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil // stream ended mid-frame; treat as normal end
			}
			return err
		}

		if len(frameData) > 0 {
			framesRead++
			if err := callback(frameData); err != nil {
				log.Warn("frame callback error", zap.Error(err))
			}
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	// Start with JPEG header
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %s bytes", strconv.Itoa(len(data)))
		}
	}
}
