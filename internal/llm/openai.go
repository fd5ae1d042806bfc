package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"globule-intake/pkg"
)

// Client is the dialogue engine used by the intake flow.  image may be nil.
type Client interface {
	Generate(ctx context.Context, prompt string, image *pkg.Photo) (string, error)
}

// ErrEmptyResponse is returned when the model produced no choice at all.
var ErrEmptyResponse = errors.New("model returned no choices")

// OpenAIClient calls the OpenAI chat completion API.  Images are sent inline
// as data URLs so vision-capable models can look at them.
type OpenAIClient struct {
	client *openai.Client
	model  string
	system string
}

// NewOpenAIClient constructs an OpenAI-backed client.  An empty baseURL keeps
// the public endpoint; model falls back to a small vision-capable default.
func NewOpenAIClient(apiKey, baseURL, model, system string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		system: system,
	}
}

// Generate sends one prompt, plus the optional photo, and returns the text of
// the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, image *pkg.Photo) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if c.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.system})
	}
	msgs = append(msgs, userMessage(prompt, image))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func userMessage(prompt string, image *pkg.Photo) openai.ChatCompletionMessage {
	if image == nil || len(image.Data) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    DataURL(image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}
}

// DataURL encodes a photo as an inline data URL.
func DataURL(p *pkg.Photo) string {
	mime := strings.TrimSpace(p.MIMEType)
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}
