package localmedia

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

type fakeFFmpeg struct {
	probe      string
	sceneOut   string
	grabbed    []string
	audioCalls [][]string
}

func (f *fakeFFmpeg) run(_ context.Context, name string, args ...string) ([]byte, error) {
	if name == "ffprobe" {
		return []byte(f.probe), nil
	}
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "-filter:v"):
		return []byte(f.sceneOut), nil
	case strings.Contains(joined, "-frames:v"):
		out := args[len(args)-1]
		f.grabbed = append(f.grabbed, args[2])
		return nil, os.WriteFile(out, []byte("jpeg"), 0o644)
	case strings.Contains(joined, "pcm_s16le"):
		f.audioCalls = append(f.audioCalls, args)
		return nil, os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
	}
	return nil, errors.New("unexpected command: " + joined)
}

func newTestTools(f *fakeFFmpeg, opts Options) *tools {
	t := New(nil, opts).(*tools)
	t.run = f.run
	return t
}

const tenSecondProbe = `{"streams":[{"r_frame_rate":"30/1","avg_frame_rate":"30/1","nb_frames":"300"}],"format":{"duration":"10.000000"}}`

func TestExtractKeyframesFallsBackToFixedInterval(t *testing.T) {
	f := &fakeFFmpeg{probe: tenSecondProbe, sceneOut: "frame=  300 fps=0.0 q=-0.0 Lsize=N/A"}
	tl := newTestTools(f, Options{})

	dir := t.TempDir()
	kfs, err := tl.ExtractKeyframes(context.Background(), "/in/static.mp4", dir)
	require.NoError(t, err)
	require.Len(t, kfs, 5)
	for i, kf := range kfs {
		assert.Equal(t, i*60, kf.FrameNumber)
		assert.Equal(t, float64(i*2), kf.TimestampSec)
		assert.Equal(t, i, kf.SceneIndex)
		assert.Equal(t, filepath.Join(dir, "keyframe_000"+string(rune('0'+i))+".jpg"), kf.ImagePath)
		assert.FileExists(t, kf.ImagePath)
	}
}

func TestExtractKeyframesUsesSceneMidpoints(t *testing.T) {
	f := &fakeFFmpeg{
		probe: tenSecondProbe,
		sceneOut: "[Parsed_showinfo_1 @ 0x1] n:   0 pts: 120 pts_time:4.0 duration:1\n" +
			"[Parsed_showinfo_1 @ 0x1] n:   1 pts: 225 pts_time:7.5 duration:1\n",
	}
	tl := newTestTools(f, Options{})

	kfs, err := tl.ExtractKeyframes(context.Background(), "/in/cuts.mp4", t.TempDir())
	require.NoError(t, err)
	require.Len(t, kfs, 3)
	assert.Equal(t, []int{60, 172, 262}, []int{kfs[0].FrameNumber, kfs[1].FrameNumber, kfs[2].FrameNumber})
	assert.Equal(t, 2.0, kfs[0].TimestampSec)
	assert.Equal(t, 5.73, kfs[1].TimestampSec)
	assert.Equal(t, 8.73, kfs[2].TimestampSec)
}

func TestExtractKeyframesPrefersSceneSource(t *testing.T) {
	f := &fakeFFmpeg{probe: tenSecondProbe, sceneOut: "should not be used pts_time:1.0"}
	tl := newTestTools(f, Options{Scenes: func(context.Context, string) ([]Scene, error) {
		return []Scene{{StartSec: 0, EndSec: 5}, {StartSec: 5, EndSec: 10}}, nil
	}})

	kfs, err := tl.ExtractKeyframes(context.Background(), "/in/v.mp4", t.TempDir())
	require.NoError(t, err)
	require.Len(t, kfs, 2)
	assert.Equal(t, 75, kfs[0].FrameNumber)
	assert.Equal(t, 225, kfs[1].FrameNumber)
}

func TestExtractKeyframesRespectsMax(t *testing.T) {
	f := &fakeFFmpeg{probe: tenSecondProbe}
	tl := newTestTools(f, Options{MaxKeyframes: 2})
	kfs, err := tl.ExtractKeyframes(context.Background(), "/in/v.mp4", t.TempDir())
	require.NoError(t, err)
	assert.Len(t, kfs, 2)
}

func TestFallbackFramesShortClip(t *testing.T) {
	assert.Equal(t, []int{0}, fallbackFrames(&VideoInfo{FPS: 30, FrameCount: 12}, 2))
	assert.Equal(t, []int{0}, fallbackFrames(&VideoInfo{FPS: 30}, 2))
	assert.Equal(t, []int{0, 1, 2}, fallbackFrames(&VideoInfo{FPS: 0.2, FrameCount: 3}, 2))
}

func TestParseProbeDerivesFrameCount(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"avg_frame_rate":"30000/1001"}],"format":{"duration":"2.0"}}`), 30)
	require.NoError(t, err)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 59, info.FrameCount)

	info, err = parseProbe([]byte(`{"streams":[{"avg_frame_rate":"0/0"}],"format":{}}`), 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, info.FPS)
}

func TestExtractAudioArgs(t *testing.T) {
	f := &fakeFFmpeg{}
	tl := newTestTools(f, Options{})
	out := filepath.Join(t.TempDir(), "audio", "track.wav")
	got, err := tl.ExtractAudio(context.Background(), "/in/v.mp4", out)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	require.Len(t, f.audioCalls, 1)
	joined := strings.Join(f.audioCalls[0], " ")
	assert.Contains(t, joined, "-ac 1")
	assert.Contains(t, joined, "-ar 16000")
}

func TestExtractAudioWithoutAudioTrack(t *testing.T) {
	tl := New(nil, Options{}).(*tools)
	tl.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("Output file #0 does not contain any stream"), errors.New("exit status 1")
	}
	_, err := tl.ExtractAudio(context.Background(), "/in/v.mp4", filepath.Join(t.TempDir(), "a.wav"))
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestWorkAreaLifecycle(t *testing.T) {
	root := t.TempDir()
	wa, err := NewWorkArea(root, "media/1")
	require.NoError(t, err)
	p, err := wa.WriteFile("keyframes/a.jpg", []byte("x"))
	require.NoError(t, err)
	assert.FileExists(t, p)

	again, ok := OpenWorkArea(root, wa.Dir)
	require.True(t, ok)
	require.NoError(t, again.Cleanup())
	require.NoError(t, wa.Cleanup())
	_, ok = OpenWorkArea(root, wa.Dir)
	assert.False(t, ok)
	assert.NoError(t, (*WorkArea)(nil).Cleanup())
}

func TestOpenWorkAreaRejectsForeignDirectories(t *testing.T) {
	root := t.TempDir()
	wa, err := NewWorkArea(root, "m")
	require.NoError(t, err)
	t.Cleanup(func() { _ = wa.Cleanup() })

	outside := t.TempDir()
	plain := filepath.Join(root, "uploads")
	require.NoError(t, os.Mkdir(plain, 0o755))
	nested := filepath.Join(wa.Dir, workAreaPrefix+"inner")
	require.NoError(t, os.Mkdir(nested, 0o755))

	cases := map[string]string{
		"outside root":     outside,
		"missing prefix":   plain,
		"nested work area": nested,
		"relative path":    filepath.Base(wa.Dir),
		"dot-dot escape":   filepath.Join(root, "..", filepath.Base(outside)),
		"other root":       wa.Dir,
	}
	for name, dir := range cases {
		checkRoot := root
		if name == "other root" {
			checkRoot = outside
		}
		_, ok := OpenWorkArea(checkRoot, dir)
		assert.False(t, ok, name)
	}
	assert.DirExists(t, outside)
	assert.DirExists(t, plain)

	_, ok := OpenWorkArea(root, wa.Dir)
	assert.True(t, ok)
}

func TestDownscaleJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		img.Set(x, x%200, color.RGBA{R: 255, A: 255})
	}
	path := filepath.Join(t.TempDir(), "in.png")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(fh, img))
	require.NoError(t, fh.Close())

	out, err := DownscaleJPEG(path, 100)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestDownscaleJPEGAcceptsOtherFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.Set(x, x%32, color.RGBA{G: 255, A: 255})
	}
	dir := t.TempDir()
	encoders := map[string]func(*os.File) error{
		"frame.gif": func(f *os.File) error { return gif.Encode(f, img, nil) },
		"frame.bmp": func(f *os.File) error { return bmp.Encode(f, img) },
	}
	for name, encode := range encoders {
		path := filepath.Join(dir, name)
		fh, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, encode(fh))
		require.NoError(t, fh.Close())

		out, err := DownscaleJPEG(path, 16)
		require.NoError(t, err, name)
		cfg, format, err := image.DecodeConfig(strings.NewReader(string(out)))
		require.NoError(t, err, name)
		assert.Equal(t, "jpeg", format, name)
		assert.Equal(t, 16, cfg.Width, name)
		assert.Equal(t, 8, cfg.Height, name)
	}
}

func TestDownscaleJPEGUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.heic")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0o644))
	_, err := DownscaleJPEG(path, 16)
	require.Error(t, err)
	assert.True(t, errors.Is(err, image.ErrFormat))
}
