package gcp

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/envutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// Segment is one timed stretch of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

type SpeechConfig struct {
	LanguageCode    string
	Model           string
	SampleRateHertz int
	// SegmentMaxSec bounds how long a word-grouped segment may run.
	SegmentMaxSec float64
}

func SpeechConfigFromEnv() SpeechConfig {
	return SpeechConfig{
		LanguageCode:    envutil.String("TRANSCRIBE_LANGUAGE", "zh-CN"),
		Model:           envutil.String("TRANSCRIBE_MODEL", ""),
		SampleRateHertz: 16000,
		SegmentMaxSec:   envutil.Float("TRANSCRIBE_SEGMENT_MAX_SEC", 10),
	}
}

// Transcriber turns 16 kHz mono PCM wav files into timed text.
type Transcriber struct {
	log        *logger.Logger
	client     *speech.Client
	cfg        SpeechConfig
	maxRetries int
}

func NewTranscriber(log *logger.Logger, cfg SpeechConfig) (*Transcriber, error) {
	c, err := speech.NewClient(context.Background(), ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if cfg.SampleRateHertz <= 0 {
		cfg.SampleRateHertz = 16000
	}
	if cfg.SegmentMaxSec <= 0 {
		cfg.SegmentMaxSec = 10
	}
	return &Transcriber{
		log:        logger.OrNop(log).With("service", "gcp.Transcriber"),
		client:     c,
		cfg:        cfg,
		maxRetries: 4,
	}, nil
}

func (t *Transcriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Transcribe recognizes the wav at audioPath. An empty language uses the configured default.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, language string) (*Transcription, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = t.cfg.LanguageCode
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return &Transcription{Language: lang}, nil
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: t.recognitionConfig(lang),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	resp, err := retryRPC(ctx, t.maxRetries, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := t.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	out := parseTranscription(resp, lang, t.cfg.SegmentMaxSec)
	t.log.Debug("Transcribed audio", "language", lang, "segments", len(out.Segments), "chars", len(out.Text))
	return out, nil
}

func (t *Transcriber) recognitionConfig(lang string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(t.cfg.SampleRateHertz),
		AudioChannelCount:          1,
		LanguageCode:               lang,
		Model:                      t.cfg.Model,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
}

type speechWord struct {
	w string
	s float64
	e float64
}

func parseTranscription(resp *speechpb.LongRunningRecognizeResponse, lang string, maxSec float64) *Transcription {
	out := &Transcription{Language: lang, Segments: []Segment{}}
	if resp == nil || len(resp.Results) == 0 {
		return out
	}

	var full strings.Builder
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		txt := strings.TrimSpace(alt.Transcript)
		if txt == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(txt)

		words := make([]speechWord, 0, len(alt.Words))
		for _, ww := range alt.Words {
			if ww == nil || strings.TrimSpace(ww.Word) == "" {
				continue
			}
			words = append(words, speechWord{w: ww.Word, s: durToSec(ww.StartTime), e: durToSec(ww.EndTime)})
		}
		if len(words) == 0 {
			end := durToSec(r.ResultEndTime)
			out.Segments = append(out.Segments, Segment{Start: lastEnd(out.Segments), End: end, Text: txt})
			continue
		}
		out.Segments = append(out.Segments, groupByTime(words, maxSec)...)
	}
	out.Text = strings.TrimSpace(full.String())
	return out
}

func lastEnd(segs []Segment) float64 {
	if len(segs) == 0 {
		return 0
	}
	return segs[len(segs)-1].End
}

func groupByTime(words []speechWord, maxSec float64) []Segment {
	segs := []Segment{}
	var buf strings.Builder
	start, end := words[0].s, words[0].e

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt != "" {
			segs = append(segs, Segment{Start: start, End: end, Text: txt})
		}
		buf.Reset()
	}

	for _, w := range words {
		if buf.Len() > 0 && w.e-start > maxSec {
			flush()
			start, end = w.s, w.e
		}
		if buf.Len() > 0 && needsSpace(buf.String(), w.w) {
			buf.WriteString(" ")
		}
		buf.WriteString(w.w)
		end = math.Max(end, w.e)
	}
	flush()
	return segs
}

// needsSpace keeps CJK runs joined and separates latin words.
func needsSpace(prev, next string) bool {
	pr := []rune(prev)
	nr := []rune(next)
	if len(pr) == 0 || len(nr) == 0 {
		return false
	}
	return !isCJK(pr[len(pr)-1]) && !isCJK(nr[0])
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff || r >= 0x3000 && r <= 0x303f || r >= 0xff00 && r <= 0xffef
}
