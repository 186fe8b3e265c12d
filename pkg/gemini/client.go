// Package gemini turns product photos into catalog attributes with a Gemini
// vision model.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
)

const maxImageBytes = 10 << 20

var ErrAPIKeyRequired = errors.New("gemini api key is required")

// Candidate is the model's guess at a product row.
type Candidate struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
}

type Client struct {
	genai  *genai.Client
	model  string
	images *resty.Client
}

func NewClient(ctx context.Context, cfg config.AIConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &Client{
		genai:  gc,
		model:  modelName,
		images: resty.New().SetTimeout(20 * time.Second),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.genai == nil {
		return nil
	}
	return c.genai.Close()
}

// AnalyzeImage downloads imageURL and asks the model for a product candidate.
// hints is free text from the merchant (brand, price range, language).
func (c *Client) AnalyzeImage(ctx context.Context, imageURL, hints string) (*Candidate, error) {
	resp, err := c.images.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 || len(body) > maxImageBytes {
		return nil, fmt.Errorf("image size %d out of range", len(body))
	}
	format, err := imageFormat(resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	model := c.genai.GenerativeModel(c.model)
	model.ResponseMIMEType = "application/json"

	out, err := model.GenerateContent(ctx, genai.ImageData(format, body), genai.Text(buildPrompt(hints)))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		return nil, errors.New("gemini returned no candidates")
	}
	var raw string
	for _, part := range out.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			raw = string(txt)
			break
		}
	}
	return parseCandidate(raw)
}

func buildPrompt(hints string) string {
	prompt := `You catalog products for an online store from a single photo.
Describe the product shown and answer with JSON only:
{"name": "short product title", "description": "one or two sentences", "price": 0.00, "category": "single category word"}
price is your best retail estimate in US dollars.`
	if strings.TrimSpace(hints) != "" {
		prompt += "\nMerchant notes: " + strings.TrimSpace(hints)
	}
	return prompt
}

func parseCandidate(raw string) (*Candidate, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("gemini returned empty text")
	}
	var out Candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode gemini json: %w", err)
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Category = strings.TrimSpace(out.Category)
	if out.Name == "" {
		return nil, errors.New("gemini candidate missing name")
	}
	return &out, nil
}

func imageFormat(contentType string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return "jpeg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	case "image/heic":
		return "heic", nil
	}
	return "", fmt.Errorf("unsupported image type %q", contentType)
}
