package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kdimtricp/signassist/internal/models"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

const identifyPrompt = "Identify any traffic signs in this image. For each sign, provide its official name and a brief explanation of its meaning. Respond in Vietnamese."

const detailsPromptTemplate = `Provide detailed information about the Vietnamese traffic sign named "%s". I need the following details: the official sign code (mã hiệu), a detailed explanation of its meaning (giải thích chi tiết), common application cases (các trường hợp áp dụng), and penalties for violation (mức phạt vi phạm). Respond in Vietnamese.`

// contentGenerator is the subset of genai.Models the client calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient calls a Gemini model with JSON-schema constrained output for
// both identification and detail lookup.
type GeminiClient struct {
	models contentGenerator
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, model), nil
}

func newGeminiClient(gen contentGenerator, model string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{models: gen, model: model}
}

func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) Identify(ctx context.Context, image []byte, mimeType string) ([]models.TrafficSign, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unsupported image mime type %q", mimeType)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(identifyPrompt),
		}, genai.RoleUser),
	}

	text, err := c.generate(ctx, contents, identifySchema())
	if err != nil {
		return nil, err
	}

	var signs []models.TrafficSign
	if err := json.Unmarshal([]byte(text), &signs); err != nil {
		return nil, fmt.Errorf("failed to decode identification response: %w", err)
	}
	return signs, nil
}

func (c *GeminiClient) Details(ctx context.Context, signName string) (models.DetailedSignInfo, error) {
	contents := genai.Text(fmt.Sprintf(detailsPromptTemplate, signName))

	text, err := c.generate(ctx, contents, detailsSchema())
	if err != nil {
		return models.DetailedSignInfo{}, err
	}

	var info models.DetailedSignInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return models.DetailedSignInfo{}, fmt.Errorf("failed to decode details response: %w", err)
	}
	return info, nil
}

func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content, schema *genai.Schema) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}

func identifySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"name": {
					Type:        genai.TypeString,
					Description: "Tên chính thức của biển báo giao thông.",
				},
				"meaning": {
					Type:        genai.TypeString,
					Description: "Giải thích ngắn gọn ý nghĩa của biển báo.",
				},
			},
			Required: []string{"name", "meaning"},
		},
	}
}

func detailsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"signCode": {
				Type:        genai.TypeString,
				Description: "Mã hiệu chính thức của biển báo (ví dụ: P.102).",
			},
			"detailedMeaning": {
				Type:        genai.TypeString,
				Description: "Giải thích chi tiết và đầy đủ về ý nghĩa, quy tắc của biển báo.",
			},
			"applicationCases": {
				Type:        genai.TypeString,
				Description: "Mô tả các tình huống, vị trí thường gặp của biển báo này trên đường.",
			},
			"penalties": {
				Type:        genai.TypeString,
				Description: "Thông tin về các mức phạt khi không tuân thủ theo quy định của biển báo.",
			},
		},
		Required: []string{"signCode", "detailedMeaning", "applicationCases", "penalties"},
	}
}
