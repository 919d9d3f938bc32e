package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lingua_chat/apperr"
)

// Translator 机器翻译后端
// from / to 是规范化后的语言代码（en, pt-br）
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
	Name() string
}

// backendLanguage 翻译后端只认主语言标签：pt-br -> pt
func backendLanguage(lang string) string {
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		return lang[:idx]
	}
	return lang
}

// LibreTranslator 兼容 LibreTranslate /translate 接口的 HTTP 客户端
type LibreTranslator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewLibreTranslator(baseURL, apiKey string, timeout time.Duration) *LibreTranslator {
	return &LibreTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *LibreTranslator) Name() string { return "libretranslate" }

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (t *LibreTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	body, err := json.Marshal(libreRequest{
		Q:      text,
		Source: backendLanguage(from),
		Target: backendLanguage(to),
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperr.Transient("translation provider unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperr.Transient("failed to read translation response", err)
	}

	var out libreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("invalid translation response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Transient(fmt.Sprintf("translation provider returned %d", resp.StatusCode), fmt.Errorf("%s", out.Error))
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("translation provider returned empty text")
	}
	return out.TranslatedText, nil
}

// ReverseTranslator 确定性的假翻译：按字符反转原文，本地开发和测试用
type ReverseTranslator struct{}

func (ReverseTranslator) Name() string { return "mock-reverse" }

func (ReverseTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	runes := []rune(text)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

// NewTranslator 按配置选择翻译后端
func NewTranslator(provider, baseURL, apiKey string, timeout time.Duration) (Translator, error) {
	switch provider {
	case "libre", "libretranslate":
		return NewLibreTranslator(baseURL, apiKey, timeout), nil
	case "mock", "reverse":
		return ReverseTranslator{}, nil
	default:
		return nil, fmt.Errorf("unknown translator provider %q", provider)
	}
}
