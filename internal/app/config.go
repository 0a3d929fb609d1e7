package app

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/lifeprint-backend/internal/data/db"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/schedule"
	"github.com/yungbote/lifeprint-backend/internal/platform/gcp"
	"github.com/yungbote/lifeprint-backend/internal/platform/llm"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	SceneDetectionFFmpeg = "ffmpeg"
	SceneDetectionGCP    = "gcp"
)

type Config struct {
	Port    string
	LogMode string

	DBDriver   string
	Postgres   db.PostgresConfig
	SQLitePath string

	RedisAddr string

	ObjectStorageMode         string
	StorageEmulatorHost       string
	StoragePublicBaseURL      string
	StorageModeCompatFallback bool
	BucketName                string

	LLM llm.Config

	TranscribeLanguage string
	EnableSpeech       bool
	EnableFaces        bool
	FaceMatchThreshold float64
	SceneDetection     string
	WorkRoot           string

	JobExecutionMode  string
	JobPolicyPath     string
	WorkerConcurrency int
	WorkerPoll        time.Duration

	ReportBatchCron string
	ReportTimezone  string
	ChartFontPath   string
	ChartURLTTL     time.Duration
	ExportURLTTL    time.Duration

	CORSOrigins    []string
	MaxUploadBytes int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_MODE", "development")

	v.SetDefault("DB_DRIVER", DBDriverPostgres)
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_NAME", "lifeprint")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "lifeprint.db")

	v.SetDefault("REDIS_ADDR", "")

	v.SetDefault("OBJECT_STORAGE_MODE", "")
	v.SetDefault("OBJECT_STORAGE_PUBLIC_BASE_URL", "")
	v.SetDefault("STORAGE_EMULATOR_HOST", "")
	v.SetDefault("MEDIA_GCS_BUCKET_NAME", "")

	v.SetDefault("LLM_PROVIDER", string(llm.ProviderOpenAI))
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_BASE_URL", "")
	v.SetDefault("LLM_MODEL", "gpt-4o")
	v.SetDefault("LLM_VISION_MODEL", "")
	v.SetDefault("LLM_TIMEOUT_SECONDS", 120)
	v.SetDefault("LLM_MAX_RETRIES", 3)

	v.SetDefault("TRANSCRIBE_LANGUAGE", "zh-CN")
	v.SetDefault("SPEECH_ENABLED", true)
	v.SetDefault("FACE_MATCH_ENABLED", true)
	v.SetDefault("FACE_MATCH_THRESHOLD", 0.4)
	v.SetDefault("SCENE_DETECTION", SceneDetectionFFmpeg)
	v.SetDefault("MEDIA_WORK_ROOT", "")

	v.SetDefault("JOB_EXECUTION_MODE", dispatch.ModeAsync)
	v.SetDefault("JOB_POLICY_PATH", "")
	v.SetDefault("WORKER_CONCURRENCY", 2)
	v.SetDefault("WORKER_POLL_SECONDS", 1)

	v.SetDefault("REPORT_BATCH_CRON", schedule.DefaultReportSpec)
	v.SetDefault("REPORT_TIMEZONE", schedule.DefaultReportTimezone)
	v.SetDefault("REPORT_CHART_FONT_PATH", "")
	v.SetDefault("REPORT_CHART_URL_TTL_SECONDS", 3600)
	v.SetDefault("EXPORT_URL_TTL_SECONDS", 3600)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("MAX_UPLOAD_BYTES", int64(512<<20))
}

// LoadConfig reads every knob from the environment over the defaults above.
func LoadConfig() Config {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return configFrom(v)
}

func configFrom(v *viper.Viper) Config {
	emulatorHost := strings.TrimSpace(v.GetString("STORAGE_EMULATOR_HOST"))
	storageMode, compat := gcp.ParseObjectStorageMode(v.GetString("OBJECT_STORAGE_MODE"), emulatorHost)

	return Config{
		Port:    v.GetString("PORT"),
		LogMode: v.GetString("LOG_MODE"),

		DBDriver: strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		Postgres: db.PostgresConfig{
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetString("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Name:     v.GetString("POSTGRES_NAME"),
			SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		},
		SQLitePath: v.GetString("SQLITE_PATH"),

		RedisAddr: strings.TrimSpace(v.GetString("REDIS_ADDR")),

		ObjectStorageMode:         string(storageMode),
		StorageEmulatorHost:       emulatorHost,
		StoragePublicBaseURL:      strings.TrimSpace(v.GetString("OBJECT_STORAGE_PUBLIC_BASE_URL")),
		StorageModeCompatFallback: compat,
		BucketName:                strings.TrimSpace(v.GetString("MEDIA_GCS_BUCKET_NAME")),

		LLM: llm.Config{
			Provider:    llm.ParseProvider(v.GetString("LLM_PROVIDER")),
			APIKey:      strings.TrimSpace(v.GetString("LLM_API_KEY")),
			BaseURL:     v.GetString("LLM_BASE_URL"),
			Model:       v.GetString("LLM_MODEL"),
			VisionModel: v.GetString("LLM_VISION_MODEL"),
			Timeout:     seconds(v, "LLM_TIMEOUT_SECONDS"),
			MaxRetries:  v.GetInt("LLM_MAX_RETRIES"),
		},

		TranscribeLanguage: v.GetString("TRANSCRIBE_LANGUAGE"),
		EnableSpeech:       v.GetBool("SPEECH_ENABLED"),
		EnableFaces:        v.GetBool("FACE_MATCH_ENABLED"),
		FaceMatchThreshold: v.GetFloat64("FACE_MATCH_THRESHOLD"),
		SceneDetection:     strings.ToLower(strings.TrimSpace(v.GetString("SCENE_DETECTION"))),
		WorkRoot:           v.GetString("MEDIA_WORK_ROOT"),

		JobExecutionMode:  strings.ToLower(strings.TrimSpace(v.GetString("JOB_EXECUTION_MODE"))),
		JobPolicyPath:     v.GetString("JOB_POLICY_PATH"),
		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),
		WorkerPoll:        seconds(v, "WORKER_POLL_SECONDS"),

		ReportBatchCron: v.GetString("REPORT_BATCH_CRON"),
		ReportTimezone:  v.GetString("REPORT_TIMEZONE"),
		ChartFontPath:   v.GetString("REPORT_CHART_FONT_PATH"),
		ChartURLTTL:     seconds(v, "REPORT_CHART_URL_TTL_SECONDS"),
		ExportURLTTL:    seconds(v, "EXPORT_URL_TTL_SECONDS"),

		CORSOrigins:    splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
	}
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Address is the listen address for the HTTP server.
func (c Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
