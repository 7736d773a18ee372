// Package remote submits audio references to an HTTP transcription service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scribekit/scribed/internal/config"
)

var (
	// ErrNetwork covers transport failures and non-2xx statuses.
	ErrNetwork = errors.New("remote transcription request failed")
	// ErrParse covers responses whose shape the client does not accept.
	ErrParse = errors.New("unparseable remote transcription response")
)

type request struct {
	AudioFile string `json:"audio_file"`
	Language  string `json:"language"`
	Model     string `json:"model"`
}

// response accepts the service's historical shapes: a "text" string, a
// "result" string, or a "result" array of strings. Text is a pointer so a
// present-but-empty field still counts as an answer.
type response struct {
	Text   *string         `json:"text"`
	Result json.RawMessage `json:"result"`
}

type Client struct {
	endpoint  string
	modelHint string
	http      *http.Client
	log       *slog.Logger
}

func NewClient(cfg config.RemoteConfig, log *slog.Logger) *Client {
	return &Client{
		endpoint:  cfg.Endpoint,
		modelHint: cfg.ModelHint,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		log: log.With(slog.String("component", "remote")),
	}
}

// Available reports whether an endpoint is configured at all.
func (c *Client) Available() bool {
	return c != nil && c.endpoint != ""
}

// Transcribe posts the audio reference and returns the recognized text.
// Canceling ctx abandons the pending request at the transport layer.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("%w: no endpoint configured", ErrNetwork)
	}

	payload := request{
		AudioFile: audioPath,
		Language:  language,
		Model:     c.modelHint,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNetwork, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %s", ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %s", ErrNetwork, err)
	}

	text, err := parseResponse(data)
	if err != nil {
		return "", err
	}
	c.log.Info("remote transcription complete",
		slog.Duration("latency", time.Since(start).Round(time.Millisecond)))
	return text, nil
}

func parseResponse(data []byte) (string, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: %s", ErrParse, err)
	}
	if resp.Text != nil {
		return *resp.Text, nil
	}
	if len(resp.Result) == 0 {
		return "", fmt.Errorf("%w: no recognized fields", ErrParse)
	}

	var single string
	if err := json.Unmarshal(resp.Result, &single); err == nil {
		return single, nil
	}
	var parts []string
	if err := json.Unmarshal(resp.Result, &parts); err == nil {
		// Array elements are concatenated without a separator; the service
		// splits mid-word.
		joined := ""
		for _, p := range parts {
			joined += p
		}
		return joined, nil
	}
	return "", fmt.Errorf("%w: result is neither string nor string array", ErrParse)
}
