package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// wireFormat is the closed set of request encodings the client speaks.
type wireFormat interface {
	path() string
	authorize(req *http.Request, apiKey string)
	encode(model, system, prompt string, images []Image) any
	decode(raw []byte) (string, error)
}

// OpenAI-compatible chat/completions: images travel as data URLs.

type openAIWire struct{}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (openAIWire) path() string { return "/chat/completions" }

func (openAIWire) authorize(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

func (openAIWire) encode(model, system, prompt string, images []Image) any {
	msgs := make([]openAIMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: system})
	}
	if len(images) == 0 {
		msgs = append(msgs, openAIMessage{Role: "user", Content: prompt})
	} else {
		parts := make([]openAIPart, 0, len(images)+1)
		for _, img := range images {
			parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL(img)}})
		}
		parts = append(parts, openAIPart{Type: "text", Text: prompt})
		msgs = append(msgs, openAIMessage{Role: "user", Content: parts})
	}
	return openAIRequest{Model: model, Messages: msgs}
}

func (openAIWire) decode(raw []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("openai decode error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", nil
	}
	return *resp.Choices[0].Message.Content, nil
}

// Anthropic messages: images travel as typed base64 content blocks.

type anthropicWire struct {
	maxTokens int
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (anthropicWire) path() string { return "/messages" }

func (anthropicWire) authorize(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
}

func (w anthropicWire) encode(model, system, prompt string, images []Image) any {
	var content any = prompt
	if len(images) > 0 {
		blocks := make([]anthropicBlock, 0, len(images)+1)
		for _, img := range images {
			mt := img.MediaType
			if mt == "" {
				mt = "image/jpeg"
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{
				Type:      "base64",
				MediaType: mt,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			}})
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: prompt})
		content = blocks
	}
	return anthropicRequest{
		Model:     model,
		MaxTokens: w.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	}
}

func (anthropicWire) decode(raw []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("anthropic decode error: %w", err)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}
