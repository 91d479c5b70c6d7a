package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prefctl/prefctl/internal/store"
)

// Response is what an LLMPort returns for one generation call.
type Response struct {
	Content    string
	Confidence float64
	Tokens     store.TokenUsage
	CostUSD    float64
	Model      string
}

// LLMPort is the governed-generation seam; generateWithGovernance never
// talks to an HTTP client directly so tests can inject a stub.
type LLMPort interface {
	Generate(ctx context.Context, prompt string) (Response, error)
}

// HTTPLLMClient is an OpenAI-compatible chat-completion client, adapted
// from the teacher's internal/evolution/llm.go. Unlike the teacher's
// client it asks the model to emit a JSON envelope carrying a confidence
// score alongside the content, since governance gates on confidence.
type HTTPLLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	pricePerKTokenUSD float64
	httpClient *http.Client
}

// NewHTTPLLMClient reads PREFCTL_LLM_BASE_URL (default
// "https://api.openai.com/v1") and PREFCTL_LLM_API_KEY from the
// environment, matching the teacher's env-var convention for the same
// concern (AGENTWARDEN_LLM_BASE_URL / AGENTWARDEN_LLM_API_KEY).
func NewHTTPLLMClient(model string, pricePerKTokenUSD float64) *HTTPLLMClient {
	baseURL := os.Getenv("PREFCTL_LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &HTTPLLMClient{
		baseURL:           baseURL,
		apiKey:            os.Getenv("PREFCTL_LLM_API_KEY"),
		model:             model,
		pricePerKTokenUSD: pricePerKTokenUSD,
		httpClient:        &http.Client{Timeout: 60 * time.Second},
	}
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
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// envelope is the structured body we instruct the model to return.
type envelope struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

const systemPrompt = `You respond ONLY with a JSON object of the form
{"content": "<your answer>", "confidence": <0..1 float>}. No other text.`

func (c *HTTPLLMClient) Generate(ctx context.Context, prompt string) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("PREFCTL_LLM_API_KEY is not set")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, string(respBytes))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBytes, &chatResp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return Response{}, fmt.Errorf("llm error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm returned no choices")
	}

	var env envelope
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &env); err != nil {
		return Response{}, fmt.Errorf("llm response was not the expected json envelope: %w", err)
	}

	tokens := store.TokenUsage{
		Prompt:     chatResp.Usage.PromptTokens,
		Completion: chatResp.Usage.CompletionTokens,
		Total:      chatResp.Usage.TotalTokens,
	}
	cost := float64(tokens.Total) / 1000.0 * c.pricePerKTokenUSD

	return Response{
		Content:    env.Content,
		Confidence: env.Confidence,
		Tokens:     tokens,
		CostUSD:    cost,
		Model:      c.model,
	}, nil
}
