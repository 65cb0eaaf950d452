// Package classifier calls the spoken-language classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"vaani/internal/upstream"
)

const serviceName = "classifier"

type Prediction struct {
	Language      string             `json:"detected_language"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"language_probabilities"`
}

type Option func(*Client)

type Client struct {
	baseURL    string
	httpClient *http.Client
	observer   upstream.ObserverFunc
}

func WithObserver(observer upstream.ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Classify uploads the audio under the multipart field "audio" and decodes
// the predicted label with its probabilities.
func (c *Client) Classify(ctx context.Context, file io.Reader, fileName string) (Prediction, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe("classify", statusCode, time.Since(started)) }()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", fileName)
	if err != nil {
		return Prediction{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return Prediction{}, err
	}
	if err := writer.Close(); err != nil {
		return Prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body.Bytes()))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, err
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Prediction{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Prediction{}, &upstream.Error{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Body:       upstream.TruncateBody(errorMessage(respBody)),
		}
	}

	var pred Prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return Prediction{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if strings.TrimSpace(pred.Language) == "" {
		return Prediction{}, fmt.Errorf("classifier response missing detected_language")
	}
	return pred, nil
}

// Ping checks that the classifier host answers at all; any HTTP status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) observe(endpoint string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(endpoint, status, duration)
	}
}

// errorMessage prefers the service's {"error": "..."} field over the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(body)
}
