package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Part is one piece of content inside a conversation entry.
type Part struct {
	Text string `json:"text"`
}

// Content is one entry of the chat history in the wire format Gemini expects.
// Role is "user" or "model".
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Text builds a single-part content entry.
func Text(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// GenerationConfig carries the sampling parameters, fixed per deployment.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type request struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

type response struct {
	Candidates []struct {
		Content struct {
			Parts []Part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// UpstreamError reports a failed generateContent call. Status is the HTTP
// status code when the upstream answered, 0 on transport failures.
type UpstreamError struct {
	Op     string
	Status int
	Cause  error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gemini %s: status %d: %v", e.Op, e.Status, e.Cause)
	}
	return fmt.Sprintf("gemini %s: %v", e.Op, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Client calls the Gemini generateContent API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	gen     GenerationConfig
	client  *http.Client
}

// NewClient builds a Gemini client. A missing API key is a construction error
// so the process refuses to start instead of failing every request.
func NewClient(apiKey, model, baseURL string, gen GenerationConfig) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-1.5-flash"
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		gen:     gen,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Complete sends the primed history plus the live user message and returns the
// model's reply text. All failures come back as *UpstreamError; the caller owns
// the single retry/surface decision.
func (c *Client) Complete(ctx context.Context, history []Content, message string) (string, error) {
	contents := make([]Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, Text("user", message))

	body, err := json.Marshal(request{Contents: contents, GenerationConfig: c.gen})
	if err != nil {
		return "", &UpstreamError{Op: "marshal request", Cause: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &UpstreamError{Op: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{Op: "send request", Cause: err}
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", &UpstreamError{Op: "read response", Status: res.StatusCode, Cause: err}
	}

	if res.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", &UpstreamError{
				Op:     "generate",
				Status: res.StatusCode,
				Cause:  fmt.Errorf("%s: %s", errResp.Error.Status, errResp.Error.Message),
			}
		}
		return "", &UpstreamError{
			Op:     "generate",
			Status: res.StatusCode,
			Cause:  fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(respBody))),
		}
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &UpstreamError{Op: "unmarshal response", Status: res.StatusCode, Cause: err}
	}
	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return "", &UpstreamError{Op: "generate", Status: res.StatusCode, Cause: errors.New("empty response content")}
	}

	var out strings.Builder
	for _, p := range apiResp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", &UpstreamError{Op: "generate", Status: res.StatusCode, Cause: errors.New("empty response text")}
	}
	return text, nil
}

// Model reports the configured model id.
func (c *Client) Model() string { return c.model }
