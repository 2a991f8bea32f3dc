package judge

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

	"go.uber.org/zap"

	"trancheflow/pkg/circuitbreaker"
	"trancheflow/pkg/config"
	"trancheflow/pkg/logger"
	"trancheflow/pkg/metrics"
	"trancheflow/pkg/trace"
)

const (
	defaultURL   = "https://api.openai.com/v1/chat/completions"
	defaultModel = "gpt-4o"

	// 图片下载上限
	maxImageBytes = 10 << 20
)

var errMalformedResponse = errors.New("judge backend returned a malformed envelope")

// Client 调用兼容 OpenAI chat completions 的视觉模型判定条件
type Client struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	cache      Cache
	logger     *zap.Logger
}

// New 根据配置返回 Judge，APIKey 为空时返回 Stub
func New(cfg config.JudgeConfig, cache Cache, logger *zap.Logger) Judge {
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Info("Judge API key not set, using demo stub")
		return Stub{}
	}
	return NewClient(cfg, cache, logger)
}

func NewClient(cfg config.JudgeConfig, cache Cache, logger *zap.Logger) *Client {
	url := cfg.URL
	if url == "" {
		url = defaultURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}

	return &Client{
		url:        url,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		cb:         circuitbreaker.NewCircuitBreaker("judge", cbConfig, logger),
		cache:      cache,
		logger:     logger,
	}
}

// Judge 下载图片（如需要）→ 查缓存 → 调用后端；后端不可用时降级
func (c *Client) Judge(ctx context.Context, description string, image ImageInput) Verdict {
	description = strings.TrimSpace(description)
	if !image.Present() {
		metrics.IncrementJudgeVerdict("no_image", false)
		return noImageVerdict(description, false)
	}

	data := strings.TrimSpace(image.Data)
	if data == "" {
		fetched, err := c.fetchImage(ctx, strings.TrimSpace(image.URL))
		if err != nil {
			c.logger.Info("Judge image fetch failed", zap.String("url", image.URL), zap.Error(err))
			metrics.IncrementJudgeVerdict("fetch_failed", false)
			return Verdict{Verified: false, Note: "Could not fetch image from URL: " + err.Error()}
		}
		data = fetched
	}
	data = toDataURL(data)

	key := CacheKey(description, data)
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, key); ok {
			metrics.IncrementJudgeVerdict("cache", v.Verified)
			return v
		}
	}

	var content string
	err := c.cb.Execute(func() error {
		var callErr error
		content, callErr = c.call(ctx, description, data)
		return callErr
	})
	if err != nil {
		reason := "backend error"
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
			reason = "circuit open"
		case errors.Is(err, errMalformedResponse):
			reason = "malformed response"
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		}
		logger.WithTrace(ctx, c.logger).Warn("Judge call failed, returning degraded verdict", zap.String("reason", reason), zap.Error(err))
		metrics.IncrementJudgeVerdict("degraded", true)
		return degradedVerdict(description, reason)
	}

	// 后端可用但答复无法解析：不算通过，也不缓存
	verdict, err := parseVerdict(content)
	if err != nil {
		logger.WithTrace(ctx, c.logger).Info("Judge reply could not be parsed", zap.Error(err))
		metrics.IncrementJudgeVerdict("unparsable", false)
		return unparsableVerdict(content)
	}

	if c.cache != nil {
		c.cache.Set(ctx, key, verdict)
	}
	metrics.IncrementJudgeVerdict("backend", verdict.Verified)
	return verdict
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func prompt(description string) string {
	return "You are a verification assistant. Look at this image and determine if the following condition is met. " +
		`Reply with JSON only: {"verified": true or false, "note": "brief explanation"}` +
		"\n\nCondition to verify: " + description
}

// call 返回模型答复的原文
func (c *Client) call(ctx context.Context, description, dataURL string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt(description)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordJudgeCallLatency("error", time.Since(start))
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordJudgeCallLatency(fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("judge backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	metrics.RecordJudgeCallLatency("success", time.Since(start))

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", errMalformedResponse)
	}
	return out.Choices[0].Message.Content, nil
}

// parseVerdict 模型有时把 JSON 包在 ```json 代码块里
func parseVerdict(content string) (Verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed struct {
		Verified *bool  `json:"verified"`
		Note     string `json:"note"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Verified == nil {
		return Verdict{}, fmt.Errorf("reply is not a verdict: %.100q", content)
	}
	note := parsed.Note
	if note == "" {
		note = "AI verification completed"
	}
	return Verdict{Verified: *parsed.Verified, Note: note}, nil
}

// unparsableVerdict 附带答复的前 100 个字符
func unparsableVerdict(content string) Verdict {
	snippet := []rune(strings.TrimSpace(content))
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}
	return Verdict{Verified: false, Note: "AI response could not be parsed: " + string(snippet)}
}

// fetchImage 下载图片并转成 data URL
func (c *Client) fetchImage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch failed: %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(raw) > maxImageBytes {
		return "", fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}
