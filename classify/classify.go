// videocursor/classify/classify.go
// Package classify turns free-form user text into a structured edit
// candidate by asking a chat completion model.
package classify

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

	"github.com/sirupsen/logrus"
)

// ErrUnavailable marks classifier transport or upstream failures so callers
// can distinguish them from instructions the model could not act on.
var ErrUnavailable = errors.New("classifier unavailable")

// Candidate is the model's reading of one instruction. When Actionable is
// false, Reply carries a conversational answer instead of an operation.
type Candidate struct {
	Actionable bool                   `json:"actionable"`
	Kind       string                 `json:"operation"`
	Params     map[string]interface{} `json:"params"`
	Reply      string                 `json:"reply"`
}

type Classifier interface {
	Classify(ctx context.Context, instruction string) (*Candidate, error)
	Analyze(ctx context.Context, instruction string) (string, error)
}

type Client struct {
	url   string
	key   string
	model string
	http  *http.Client
	log   *logrus.Logger
}

func NewClient(url, key, model string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		url:   url,
		key:   key,
		model: model,
		http:  &http.Client{Timeout: timeout},
		log:   log,
	}
}

const classifyPrompt = `You are the instruction parser of a video editing service.
Decide whether the user message below asks for a concrete video edit.

Respond with a single JSON object, nothing else:
{"actionable": true|false, "operation": "<kind>", "params": {...}, "reply": "<text>"}

Kinds and their params:
- trim: start_time, end_time (seconds; keep footage between them)
- splice: remove_start_time, remove_end_time (seconds; cut that span out)
- effects: blur (0-10), brightness (-1..1), contrast (0-2), saturation (0-2),
  artistic_filter (none|black & white|sepia|vintage|negative|emboss|edge detection),
  zoom (>=1), rotation (degrees), horizontal_flip, vertical_flip
- extract_audio: audio_codec (mp3|aac|wav|flac), bitrate (e.g. 192k)
- background_audio: audio_file_id, volume (0-2), mix (true keeps original audio)
- sound_effect: audio_file_id, start_time, duration, volume
- subtitles: subtitle_file_id, burn, language
- convert: video_codec, audio_codec, quality (CRF 0-51)
- gif: start_time, duration, width, height

If the message is a greeting, question, or anything that is not an edit
request, set actionable to false and answer it briefly in reply.

User message: %s`

func (c *Client) Classify(ctx context.Context, instruction string) (*Candidate, error) {
	text, err := c.chat(ctx, fmt.Sprintf(classifyPrompt, instruction))
	if err != nil {
		return nil, err
	}
	var cand Candidate
	if err := json.Unmarshal([]byte(stripFences(text)), &cand); err != nil {
		c.log.WithField("raw", text).Warn("classifier returned malformed JSON")
		return nil, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	return &cand, nil
}

const analyzePrompt = `Classify the video editing instruction below as either
"specific" (it names concrete parameters such as timestamps, amounts or
filters) or "vague" (intent without parameters, e.g. "make it look better").
Respond with exactly one word: specific or vague.

Instruction: %s`

// Analyze reports whether an instruction is "specific" or "vague".
func (c *Client) Analyze(ctx context.Context, instruction string) (string, error) {
	text, err := c.chat(ctx, fmt.Sprintf(analyzePrompt, instruction))
	if err != nil {
		return "", err
	}
	word := strings.ToLower(strings.TrimSpace(stripFences(text)))
	if strings.Contains(word, "vague") {
		return "vague", nil
	}
	return "specific", nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(raw),
		}).Warn("chat API error")
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sb strings.Builder
	for _, part := range parsed.Message.Content {
		if part.Type == "" || part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return sb.String(), nil
}

// stripFences removes a ```json ... ``` wrapper if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && !strings.HasPrefix(s, "{") {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
