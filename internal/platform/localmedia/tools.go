package localmedia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/envutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// Tools wraps ffmpeg/ffprobe. Both binaries must be on PATH in the worker runtime.
//
// Calls are synchronous and may take minutes; run them from jobs, not request handlers.
type Tools interface {
	AssertReady(ctx context.Context) error
	Probe(ctx context.Context, videoPath string) (*VideoInfo, error)
	ExtractKeyframes(ctx context.Context, videoPath string, outDir string) ([]Keyframe, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error)
}

// Keyframe is one representative still of a video.
type Keyframe struct {
	FrameNumber  int     `json:"frame_number"`
	TimestampSec float64 `json:"timestamp_sec"`
	ImagePath    string  `json:"image_path"`
	SceneIndex   int     `json:"scene_index"`
}

type VideoInfo struct {
	FPS         float64
	DurationSec float64
	FrameCount  int
}

// Scene is a [StartSec, EndSec) span reported by an external shot detector.
type Scene struct {
	StartSec float64
	EndSec   float64
}

// SceneSource supplies scene spans for a video file in place of ffmpeg's scene filter.
type SceneSource func(ctx context.Context, videoPath string) ([]Scene, error)

type Options struct {
	// SceneThreshold is ffmpeg's scene score (0..1) above which a frame starts a new scene.
	SceneThreshold float64
	// FallbackIntervalSec is the sampling step used when no scene cuts are found.
	FallbackIntervalSec float64
	DefaultFPS          float64
	MaxKeyframes        int
	JPEGQuality         int
	Timeout             time.Duration
	Scenes              SceneSource
}

func OptionsFromEnv() Options {
	return Options{
		SceneThreshold:      envutil.Float("KEYFRAME_SCENE_THRESHOLD", 0.27),
		FallbackIntervalSec: envutil.Float("KEYFRAME_FALLBACK_INTERVAL_SEC", 2),
		DefaultFPS:          30,
		MaxKeyframes:        envutil.Int("KEYFRAME_MAX", 0),
		JPEGQuality:         2,
		Timeout:             10 * time.Minute,
	}
}

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type tools struct {
	log         *logger.Logger
	opts        Options
	ffmpegPath  string
	ffprobePath string
	run         runner
}

func New(log *logger.Logger, opts Options) Tools {
	if opts.DefaultFPS <= 0 {
		opts.DefaultFPS = 30
	}
	if opts.FallbackIntervalSec <= 0 {
		opts.FallbackIntervalSec = 2
	}
	if opts.SceneThreshold <= 0 {
		opts.SceneThreshold = 0.27
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &tools{
		log:         logger.OrNop(log).With("service", "MediaTools"),
		opts:        opts,
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		run:         execRunner,
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *tools) Probe(ctx context.Context, videoPath string) (*VideoInfo, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	out, err := m.run(ctx, m.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		videoPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w; out=%s", err, string(out))
	}
	return parseProbe(out, m.opts.DefaultFPS)
}

func parseProbe(out []byte, defaultFPS float64) (*VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	info := &VideoInfo{FPS: defaultFPS}
	info.DurationSec, _ = strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64)
	if len(p.Streams) > 0 {
		s := p.Streams[0]
		if fps := parseRate(s.AvgFrameRate); fps > 0 {
			info.FPS = fps
		} else if fps := parseRate(s.RFrameRate); fps > 0 {
			info.FPS = fps
		}
		info.FrameCount, _ = strconv.Atoi(strings.TrimSpace(s.NbFrames))
		if info.DurationSec <= 0 {
			info.DurationSec, _ = strconv.ParseFloat(strings.TrimSpace(s.Duration), 64)
		}
	}
	if info.FrameCount <= 0 && info.DurationSec > 0 {
		info.FrameCount = int(info.DurationSec * info.FPS)
	}
	return info, nil
}

// parseRate reads ffprobe rates like "30000/1001".
func parseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

var ptsTimeRE = regexp.MustCompile(`pts_time:([0-9.]+)`)

// sceneCuts returns the timestamps at which ffmpeg's scene score crosses the threshold.
func (m *tools) sceneCuts(ctx context.Context, videoPath string) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene\\,%0.3f)',showinfo", m.opts.SceneThreshold)
	out, err := m.run(ctx, m.ffmpegPath, "-hide_banner", "-i", videoPath, "-filter:v", filter, "-an", "-f", "null", "-")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg scene detect failed: %w; out=%s", err, tail(out, 2048))
	}
	cuts := []float64{}
	for _, match := range ptsTimeRE.FindAllSubmatch(out, -1) {
		v, err := strconv.ParseFloat(string(match[1]), 64)
		if err == nil && v > 0 {
			cuts = append(cuts, v)
		}
	}
	sort.Float64s(cuts)
	return cuts, nil
}

// scenesFromCuts splits [0, duration] at each cut.
func scenesFromCuts(cuts []float64, duration float64) []Scene {
	if len(cuts) == 0 {
		return nil
	}
	out := make([]Scene, 0, len(cuts)+1)
	start := 0.0
	for _, c := range cuts {
		if c <= start {
			continue
		}
		out = append(out, Scene{StartSec: start, EndSec: c})
		start = c
	}
	end := duration
	if end <= start {
		end = start
	}
	out = append(out, Scene{StartSec: start, EndSec: end})
	return out
}

// ExtractKeyframes takes the middle frame of every detected scene. When no
// scene cut is found it samples every max(int(fps*interval),1) frames instead.
func (m *tools) ExtractKeyframes(ctx context.Context, videoPath string, outDir string) ([]Keyframe, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return nil, fmt.Errorf("videoPath required")
	}
	if outDir == "" {
		return nil, fmt.Errorf("outDir required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir outDir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	info, err := m.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	scenes, err := m.detectScenes(ctx, videoPath, info)
	if err != nil {
		return nil, err
	}

	var frames []int
	if len(scenes) > 0 {
		for _, sc := range scenes {
			startF := int(math.Round(sc.StartSec * info.FPS))
			endF := int(math.Round(sc.EndSec * info.FPS))
			frames = append(frames, (startF+endF)/2)
		}
	} else {
		frames = fallbackFrames(info, m.opts.FallbackIntervalSec)
	}
	if m.opts.MaxKeyframes > 0 && len(frames) > m.opts.MaxKeyframes {
		frames = frames[:m.opts.MaxKeyframes]
	}

	out := make([]Keyframe, 0, len(frames))
	for _, f := range frames {
		idx := len(out)
		path := filepath.Join(outDir, fmt.Sprintf("keyframe_%04d.jpg", idx))
		ts := float64(f) / info.FPS
		if err := m.grabFrame(ctx, videoPath, ts, path); err != nil {
			m.log.Warn("Keyframe grab failed", "frame", f, "error", err)
			continue
		}
		out = append(out, Keyframe{
			FrameNumber:  f,
			TimestampSec: round(ts, 2),
			ImagePath:    path,
			SceneIndex:   idx,
		})
	}
	m.log.Debug("Keyframes extracted", "count", len(out), "scenes", len(scenes), "fps", info.FPS)
	return out, nil
}

func (m *tools) detectScenes(ctx context.Context, videoPath string, info *VideoInfo) ([]Scene, error) {
	if m.opts.Scenes != nil {
		scenes, err := m.opts.Scenes(ctx, videoPath)
		if err == nil {
			if len(scenes) > 1 {
				return scenes, nil
			}
			return nil, nil
		}
		m.log.Warn("Scene source failed; using ffmpeg scene filter", "error", err)
	}
	cuts, err := m.sceneCuts(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	return scenesFromCuts(cuts, info.DurationSec), nil
}

func fallbackFrames(info *VideoInfo, intervalSec float64) []int {
	step := int(info.FPS * intervalSec)
	if step < 1 {
		step = 1
	}
	total := info.FrameCount
	if total <= 0 {
		// unknown length still yields the first frame
		total = 1
	}
	out := []int{}
	for f := 0; f < total; f += step {
		out = append(out, f)
	}
	return out
}

func (m *tools) grabFrame(ctx context.Context, videoPath string, ts float64, outPath string) error {
	out, err := m.run(ctx, m.ffmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(m.opts.JPEGQuality),
		outPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg grab frame failed: %w; out=%s", err, tail(out, 1024))
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("frame output missing at %s", outPath)
	}
	return nil
}

// ExtractAudio writes a mono 16 kHz pcm_s16le wav.
func (m *tools) ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if videoPath == "" {
		return "", fmt.Errorf("videoPath required")
	}
	if outPath == "" {
		return "", fmt.Errorf("outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	out, err := m.run(ctx, m.ffmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outPath,
	)
	if err != nil {
		if noAudioStream(out) {
			return "", ErrNoAudio
		}
		return "", fmt.Errorf("ffmpeg extract audio failed: %w; out=%s", err, tail(out, 2048))
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio output missing at %s", outPath)
	}
	return outPath, nil
}

// ErrNoAudio is returned by ExtractAudio for videos without an audio track.
var ErrNoAudio = errors.New("video has no audio stream")

func noAudioStream(out []byte) bool {
	return bytes.Contains(out, []byte("does not contain any stream")) ||
		bytes.Contains(out, []byte("matches no streams"))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
