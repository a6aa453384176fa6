package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AIProxy is a thin passthrough to a third-party chat-completion API,
// used by the builder UI for AI-assisted strategy generation. The
// provider is selected by model name.
type AIProxy struct {
	client       *http.Client
	logger       *zap.Logger
	openAIURL    string
	openAIKey    string
	anthropicURL string
	anthropicKey string
}

func NewAIProxy(openAIURL, openAIKey, anthropicURL, anthropicKey string, logger *zap.Logger) *AIProxy {
	return &AIProxy{
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
		openAIURL:    openAIURL,
		openAIKey:    openAIKey,
		anthropicURL: anthropicURL,
		anthropicKey: anthropicKey,
	}
}

type aiRequest struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt"`
	UserPrompts  []string `json:"userPrompts"`
}

// Completion handles POST /api/ai: 400 on missing fields, 500 when the
// selected provider has no credential configured, and the upstream
// HTTP status is propagated on failure.
func (p *AIProxy) Completion(c *gin.Context) {
	var req aiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Model == "" || req.SystemPrompt == "" || len(req.UserPrompts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model, systemPrompt and userPrompts are required"})
		return
	}

	if strings.HasPrefix(req.Model, "claude") {
		p.forwardAnthropic(c, req)
		return
	}
	p.forwardOpenAI(c, req)
}

func (p *AIProxy) forwardOpenAI(c *gin.Context, req aiRequest) {
	if p.openAIKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OpenAI API key not configured"})
		return
	}

	messages := []map[string]string{{"role": "system", "content": req.SystemPrompt}}
	for _, prompt := range req.UserPrompts {
		messages = append(messages, map[string]string{"role": "user", "content": prompt})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	})

	upstream, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, p.openAIURL, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Authorization", "Bearer "+p.openAIKey)

	resp, err := p.client.Do(upstream)
	if err != nil {
		p.logger.Error("openai request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.propagate(c, resp)
		return
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Choices) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "unexpected upstream response"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": parsed.Choices[0].Message.Content})
}

func (p *AIProxy) forwardAnthropic(c *gin.Context, req aiRequest) {
	if p.anthropicKey == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Anthropic API key not configured"})
		return
	}

	messages := make([]map[string]string, 0, len(req.UserPrompts))
	for _, prompt := range req.UserPrompts {
		messages = append(messages, map[string]string{"role": "user", "content": prompt})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"model":      req.Model,
		"system":     req.SystemPrompt,
		"messages":   messages,
		"max_tokens": 4096,
	})

	upstream, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, p.anthropicURL, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build upstream request"})
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("x-api-key", p.anthropicKey)
	upstream.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(upstream)
	if err != nil {
		p.logger.Error("anthropic request failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.propagate(c, resp)
		return
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Content) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "unexpected upstream response"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": parsed.Content[0].Text})
}

// propagate forwards the upstream status code and body verbatim.
func (p *AIProxy) propagate(c *gin.Context, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	p.logger.Warn("upstream AI provider returned error",
		zap.Int("status", resp.StatusCode),
	)
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}
