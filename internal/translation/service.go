// Package translation turns Marathi transcripts into English with an
// OpenAI-compatible chat model.
package translation

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"vaani/internal/apperr"
	"vaani/internal/upstream"
)

const SystemPrompt = "You are a Marathi to English translator. Convert the given Marathi text to English. Only return the translation, nothing else."

const maxCompletionTokens = 1024

// zeroTemperature asks for greedy decoding; go-openai drops a literal 0.
const zeroTemperature = math.SmallestNonzeroFloat32

type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewClient builds a go-openai client pointed at baseURL.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

type Service struct {
	client   ChatClient
	model    string
	timeout  time.Duration
	observer upstream.ObserverFunc
}

func New(client ChatClient, model string, timeout time.Duration, observer upstream.ObserverFunc) *Service {
	return &Service{
		client:   client,
		model:    strings.TrimSpace(model),
		timeout:  timeout,
		observer: observer,
	}
}

func (s *Service) Translate(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               s.model,
		Temperature:         zeroTemperature,
		TopP:                1,
		MaxCompletionTokens: maxCompletionTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	s.observe(statusOf(err), time.Since(started))
	if err != nil {
		return "", upstream.AsAppError("translation", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindUpstreamError, "translation returned no choices")
	}
	return sanitize(resp.Choices[0].Message.Content), nil
}

// FailureText is what the response carries in place of a translation when
// the call fails.
func FailureText(err error) string {
	if apperr.Is(err, apperr.KindUpstreamTimeout) {
		return "Translation error: timed out"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return "Translation error: " + apiErr.Message
	}
	return "Translation error: " + apperr.Message(err, "request failed")
}

func (s *Service) observe(status int, duration time.Duration) {
	if s.observer != nil {
		s.observer("chat_completions", status, duration)
	}
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func sanitize(value string) string {
	result := strings.TrimSpace(value)
	if len(result) > 1 && strings.HasPrefix(result, "\"") && strings.HasSuffix(result, "\"") {
		result = strings.TrimSpace(result[1 : len(result)-1])
	}
	return result
}
