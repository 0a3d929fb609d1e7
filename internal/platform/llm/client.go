package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/envutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/httpx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ParseProvider maps anything that is not "anthropic" to the OpenAI-compatible wire format.
func ParseProvider(s string) Provider {
	if strings.EqualFold(strings.TrimSpace(s), string(ProviderAnthropic)) {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// Image is one inline image sent with a vision prompt.
type Image struct {
	MediaType string
	Data      []byte
}

// Client is the text and vision completion capability.
type Client interface {
	Complete(ctx context.Context, prompt string, system string) (string, error)
	CompleteVision(ctx context.Context, prompt string, images []Image, system string) (string, error)
	TestConnection(ctx context.Context) ConnectionResult
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Config struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
	MaxRetries  int
	MaxTokens   int
}

func ConfigFromEnv() Config {
	return Config{
		Provider:    ParseProvider(envutil.String("LLM_PROVIDER", "openai")),
		APIKey:      envutil.String("LLM_API_KEY", ""),
		BaseURL:     envutil.String("LLM_BASE_URL", ""),
		Model:       envutil.String("LLM_MODEL", "gpt-4o"),
		VisionModel: envutil.String("LLM_VISION_MODEL", ""),
		Timeout:     envutil.Seconds("LLM_TIMEOUT_SECONDS", 120*time.Second),
		MaxRetries:  envutil.Int("LLM_MAX_RETRIES", 3),
		MaxTokens:   4096,
	}
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		if c.Provider == ProviderAnthropic {
			c.BaseURL = "https://api.anthropic.com/v1"
		} else {
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.VisionModel == "" {
		c.VisionModel = c.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

type client struct {
	log        *logger.Logger
	cfg        Config
	wire       wireFormat
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}
	var wire wireFormat
	switch cfg.Provider {
	case ProviderAnthropic:
		wire = anthropicWire{maxTokens: cfg.MaxTokens}
	case ProviderOpenAI:
		wire = openAIWire{}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return &client{
		log:        logger.OrNop(log).With("service", "LLMClient", "provider", string(cfg.Provider)),
		cfg:        cfg,
		wire:       wire,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *client) Complete(ctx context.Context, prompt string, system string) (string, error) {
	return c.complete(ctx, c.cfg.Model, prompt, nil, system)
}

func (c *client) CompleteVision(ctx context.Context, prompt string, images []Image, system string) (string, error) {
	return c.complete(ctx, c.cfg.VisionModel, prompt, images, system)
}

func (c *client) TestConnection(ctx context.Context) ConnectionResult {
	out, err := c.Complete(ctx, "请回复：连接成功", "")
	if err != nil {
		return ConnectionResult{Success: false, Message: "connection failed: " + err.Error()}
	}
	if strings.TrimSpace(out) == "" {
		return ConnectionResult{Success: false, Message: "model returned empty content"}
	}
	r := []rune(out)
	if len(r) > 50 {
		r = r[:50]
	}
	return ConnectionResult{Success: true, Message: "connected, model replied: " + string(r)}
}

func (c *client) complete(ctx context.Context, model, prompt string, images []Image, system string) (string, error) {
	ctx = ctxutil.Default(ctx)
	body := c.wire.encode(model, system, prompt, images)
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode llm request: %w", err)
	}

	start := time.Now()
	var raw []byte
	err = httpx.Retry(ctx,
		httpx.RetryPolicy{MaxRetries: c.cfg.MaxRetries, Initial: time.Second, Max: 10 * time.Second},
		func(int) error {
			var doErr error
			raw, doErr = c.doOnce(ctx, payload)
			return doErr
		},
		func(attempt int, wait time.Duration, err error) {
			c.log.Warn("LLM request retrying", "attempt", attempt, "max_retries", c.cfg.MaxRetries, "sleep", wait.String(), "error", err.Error())
		},
	)
	if err != nil {
		return "", err
	}
	text, err := c.wire.decode(raw)
	if err != nil {
		return "", err
	}
	c.log.Debug("LLM request done", "model", model, "images", len(images), "latency_ms", time.Since(start).Milliseconds())
	return text, nil
}

type httpError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, truncate(e.Body, 512))
}

func (e *httpError) HTTPStatusCode() int { return e.StatusCode }

func (e *httpError) RetryAfter() time.Duration { return e.retryAfter }

// transportError marks connection-level failures as retryable.
type transportError struct{ err error }

func (e *transportError) Error() string       { return "llm transport: " + e.err.Error() }
func (e *transportError) Unwrap() error       { return e.err }
func (e *transportError) HTTPStatusCode() int { return http.StatusServiceUnavailable }

func (c *client) doOnce(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.wire.path(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.wire.authorize(req, c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &transportError{err: err}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &transportError{err: readErr}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			retryAfter: httpx.RetryAfterDuration(resp, 0, 30*time.Second),
		}
	}
	return raw, nil
}

func dataURL(img Image) string {
	mt := img.MediaType
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
