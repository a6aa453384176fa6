package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func aiRouter(proxy *AIProxy) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/ai", proxy.Completion)
	return router
}

func postAI(t *testing.T, router *gin.Engine, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ai", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAIProxy_MissingFields(t *testing.T) {
	proxy := NewAIProxy("", "key", "", "key", zap.NewNop())
	router := aiRouter(proxy)

	w := postAI(t, router, map[string]any{"model": "gpt-4o"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAIProxy_MissingCredential(t *testing.T) {
	proxy := NewAIProxy("http://localhost:0", "", "http://localhost:0", "", zap.NewNop())
	router := aiRouter(proxy)

	w := postAI(t, router, map[string]any{
		"model":        "gpt-4o",
		"systemPrompt": "you build strategies",
		"userPrompts":  []string{"make one"},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAIProxy_OpenAIRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.Equal(t, "system", body.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{"content": "here is a strategy"},
			}},
		})
	}))
	defer upstream.Close()

	proxy := NewAIProxy(upstream.URL, "test-key", "", "", zap.NewNop())
	router := aiRouter(proxy)

	w := postAI(t, router, map[string]any{
		"model":        "gpt-4o",
		"systemPrompt": "you build strategies",
		"userPrompts":  []string{"make one"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "here is a strategy")
}

func TestAIProxy_AnthropicRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "strategy draft"}},
		})
	}))
	defer upstream.Close()

	proxy := NewAIProxy("", "", upstream.URL, "test-key", zap.NewNop())
	router := aiRouter(proxy)

	w := postAI(t, router, map[string]any{
		"model":        "claude-sonnet-4-5",
		"systemPrompt": "you build strategies",
		"userPrompts":  []string{"make one"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "strategy draft")
}

func TestAIProxy_PropagatesUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer upstream.Close()

	proxy := NewAIProxy(upstream.URL, "test-key", "", "", zap.NewNop())
	router := aiRouter(proxy)

	w := postAI(t, router, map[string]any{
		"model":        "gpt-4o",
		"systemPrompt": "you build strategies",
		"userPrompts":  []string{"make one"},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limited")
}
