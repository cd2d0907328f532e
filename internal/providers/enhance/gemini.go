package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"photoenhance/internal/infra"
)

const defaultInstruction = "Enhance this photo: improve sharpness, exposure, color balance and reduce noise. " +
	"Keep the composition and subject identical. Return only the enhanced image."

// maxErrorBody caps how much of a failed upstream response is read.
const maxErrorBody = 64 << 10

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiClient calls the Gemini generateContent endpoint with the source image
// inlined and reads the enhanced image from the first candidate.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	AvgLogprobs  float64       `json:"avgLogprobs,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewGeminiClient constructs a client with defaults. The HTTP client carries no
// timeout of its own; callers bound each call with their context.
func NewGeminiClient(opts Options) (*GeminiClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("enhance: gemini api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &GeminiClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *GeminiClient) Model() string {
	return c.model
}

// Enhance performs exactly one generateContent call.
func (c *GeminiClient) Enhance(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("enhance: source image is empty")
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		instruction = defaultInstruction
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: instruction},
				{InlineData: &geminiInlineData{MimeType: req.MIME, Data: base64.StdEncoding.EncodeToString(req.Data)}},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{CandidateCount: 1, ResponseModalities: []string{"IMAGE"}},
	}

	var resp geminiGenerateContentResponse
	if err := c.invoke(ctx, fmt.Sprintf("models/%s:generateContent", url.PathEscape(c.model)), payload, &resp); err != nil {
		return nil, err
	}
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &UpstreamError{StatusCode: http.StatusOK, Message: "malformed inline image data"}
			}
			if len(data) == 0 {
				continue
			}
			c.logger.Debug().Str("photo_id", req.PhotoID).Str("finish_reason", cand.FinishReason).Int("bytes", len(data)).Msg("enhance: gemini returned image")
			return &Result{
				Data:       data,
				MIME:       firstNonEmpty(part.InlineData.MimeType, req.MIME),
				Confidence: confidenceFor(cand),
				Model:      c.model,
			}, nil
		}
	}
	return nil, ErrEmptyResult
}

func (c *GeminiClient) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode gemini request: %w", err)
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create gemini request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("invoke gemini: %w", ctxErr)
		}
		return fmt.Errorf("invoke gemini: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &UpstreamError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("read gemini response: %w", ctxErr)
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Message: "undecodable response: " + err.Error()}
	}
	return nil
}

func confidenceFor(c geminiCandidate) float64 {
	if c.AvgLogprobs < 0 {
		return math.Exp(c.AvgLogprobs)
	}
	switch strings.ToUpper(c.FinishReason) {
	case "", "STOP":
		return 1
	default:
		return 0.5
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ Enhancer = (*GeminiClient)(nil)
