package app

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/lifeprint-backend/internal/platform/facematch"
	"github.com/yungbote/lifeprint-backend/internal/platform/gcp"
	"github.com/yungbote/lifeprint-backend/internal/platform/llm"
	"github.com/yungbote/lifeprint-backend/internal/platform/localmedia"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
	"github.com/yungbote/lifeprint-backend/internal/platform/redisx"
)

type Clients struct {
	Store  objectstore.Store
	LLM    llm.Client
	Tools  localmedia.Tools
	Speech *gcp.Transcriber
	Faces  *facematch.Matcher
	Shots  *gcp.ShotDetector
	Redis  *goredis.Client
	Locker redisx.Locker

	closers []func() error
}

func wireClients(log *logger.Logger, cfg Config) (*Clients, error) {
	log.Info("Wiring clients...")
	c := &Clients{}

	store, closeStore, err := resolveObjectStore(log, cfg)
	if err != nil {
		return nil, err
	}
	c.Store = store
	c.closers = append(c.closers, closeStore)

	// Redis
	if cfg.RedisAddr != "" {
		rdb, err := redisx.NewClient(cfg.RedisAddr)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
		c.Locker = redisx.NewLocker(log, rdb, "lifeprint:lock:")
		c.closers = append(c.closers, rdb.Close)
	} else {
		log.Warn("REDIS_ADDR not set; report generation locks are process-local")
		c.Locker = redisx.NewMemoryLocker()
	}

	// LLM
	client, err := llm.New(log, cfg.LLM)
	if err != nil {
		log.Warn("LLM client unavailable; insights and narratives use fallbacks", "error", err)
	} else {
		c.LLM = client
	}

	// Gcp
	if cfg.EnableSpeech {
		speechCfg := gcp.SpeechConfigFromEnv()
		speechCfg.LanguageCode = cfg.TranscribeLanguage
		tr, err := gcp.NewTranscriber(log, speechCfg)
		if err != nil {
			log.Warn("Speech client unavailable; transcription disabled", "error", err)
		} else {
			c.Speech = tr
			c.closers = append(c.closers, tr.Close)
		}
	}
	if cfg.EnableFaces {
		var detector *gcp.FaceDetector
		c.Faces = facematch.NewMatcher(log, func() (facematch.Detector, error) {
			d, err := gcp.NewFaceDetector(log)
			if err != nil {
				return nil, err
			}
			detector = d
			return d, nil
		})
		c.closers = append(c.closers, func() error {
			if detector == nil {
				return nil
			}
			return detector.Close()
		})
	}

	opts := localmedia.OptionsFromEnv()
	if cfg.SceneDetection == SceneDetectionGCP {
		shots, err := gcp.NewShotDetector(log)
		if err != nil {
			log.Warn("Video intelligence client unavailable; using ffmpeg scene detection", "error", err)
		} else {
			c.Shots = shots
			c.closers = append(c.closers, shots.Close)
			opts.Scenes = shotScenes(shots)
		}
	}
	c.Tools = localmedia.New(log, opts)

	return c, nil
}

type shotDetector interface {
	DetectShots(ctx context.Context, video []byte) ([]gcp.Shot, error)
}

// shotScenes adapts a shot detector to the keyframe extractor's scene source.
func shotScenes(d shotDetector) localmedia.SceneSource {
	return func(ctx context.Context, videoPath string) ([]localmedia.Scene, error) {
		data, err := os.ReadFile(videoPath)
		if err != nil {
			return nil, err
		}
		shots, err := d.DetectShots(ctx, data)
		if err != nil {
			return nil, err
		}
		scenes := make([]localmedia.Scene, 0, len(shots))
		for _, s := range shots {
			scenes = append(scenes, localmedia.Scene{StartSec: s.StartSec, EndSec: s.EndSec})
		}
		return scenes, nil
	}
}

// Close releases every client in reverse order of construction.
func (c *Clients) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if c.closers[i] != nil {
			_ = c.closers[i]()
		}
	}
	c.closers = nil
}
