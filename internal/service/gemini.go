package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mindfold/tutorbot/internal/config"
	"github.com/mindfold/tutorbot/internal/domain"
)

// PromptPart is one ordered piece of an outbound model request: either text
// or inline binary data tagged with its MIME type.
type PromptPart struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart builds a text-only prompt part.
func TextPart(text string) PromptPart {
	return PromptPart{Text: text}
}

// BlobPart builds an inline binary prompt part.
func BlobPart(data []byte, mimeType string) PromptPart {
	return PromptPart{Data: data, MIMEType: mimeType}
}

// GeminiService wraps the Gemini generateContent REST endpoint for the two
// request shapes this app needs: summarize-to-title and next-assistant-turn.
type GeminiService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewGeminiService(apiKey, model string) *GeminiService {
	return &GeminiService{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents []geminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// SummarizeTitle asks the model for a short single-line title for text.
// An empty result is returned as-is; callers decide the fallback.
func (s *GeminiService) SummarizeTitle(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.TitleRequestTimeout)
	defer cancel()

	resp, err := s.generate(ctx, []PromptPart{TextPart(fmt.Sprintf(config.TitlePrompt, text))})
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(firstCandidateText(resp))
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	runes := []rune(title)
	if len(runes) > config.TitleMaxLen {
		title = string(runes[:config.TitleMaxLen])
	}
	return title, nil
}

// GenerateReply sends the ordered prompt parts as one user turn and returns
// the generated text. A response with no candidates yields empty text, not
// an error.
func (s *GeminiService) GenerateReply(ctx context.Context, parts []PromptPart) (string, domain.TokenUsage, error) {
	resp, err := s.generate(ctx, parts)
	if err != nil {
		return "", domain.TokenUsage{}, err
	}

	usage := domain.TokenUsage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	return firstCandidateText(resp), usage, nil
}

func (s *GeminiService) generate(ctx context.Context, parts []PromptPart) (*generateResponse, error) {
	content := geminiContent{Role: "user"}
	for _, p := range parts {
		if p.Data != nil {
			content.Parts = append(content.Parts, geminiPart{
				InlineData: &geminiInlineData{
					MIMEType: p.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		content.Parts = append(content.Parts, geminiPart{Text: p.Text})
	}

	payload, err := json.Marshal(generateRequest{Contents: []geminiContent{content}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", s.baseURL, s.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited by Gemini (429)")
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("Gemini service unavailable (503)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &genResp, nil
}

func firstCandidateText(resp *generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
