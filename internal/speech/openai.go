// Package speech adapts speech-to-text and text-to-speech engines for the
// kiosk.  Recognition failures are reported as empty text so the flow simply
// re-prompts.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Recognizer turns recorded audio into text.  An empty string means nothing
// usable was heard.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, lang string) (string, error)
}

// Synthesizer renders text as playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// OpenAI implements both directions with Whisper and the TTS endpoint.
type OpenAI struct {
	client   *openai.Client
	sttModel string
	ttsModel openai.SpeechModel
	voice    openai.SpeechVoice
}

// NewOpenAI builds the adapter.  Empty model or voice names fall back to the
// defaults of the API.
func NewOpenAI(apiKey, baseURL, sttModel, ttsModel, voice string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if sttModel == "" {
		sttModel = openai.Whisper1
	}
	tm := openai.TTSModel1
	if ttsModel != "" {
		tm = openai.SpeechModel(ttsModel)
	}
	v := openai.VoiceAlloy
	if voice != "" {
		v = openai.SpeechVoice(voice)
	}
	return &OpenAI{
		client:   openai.NewClientWithConfig(cfg),
		sttModel: sttModel,
		ttsModel: tm,
		voice:    v,
	}
}

// Recognize transcribes a recorded answer.  lang is an ISO-639-1 hint such as
// "hi".
func (s *OpenAI) Recognize(ctx context.Context, audio []byte, lang string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.sttModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "answer.wav",
		Language: lang,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Synthesize returns mp3 audio for text.  The TTS endpoint detects the
// language from the text itself, so lang is not sent.
func (s *OpenAI) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	audio, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.ttsModel,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer audio.Close()
	return io.ReadAll(audio)
}
