package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/classification"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	textModel   string
	visionModel string
	httpClient  *http.Client
	executor    *resilience.Executor
}

func New(baseURL, textModel, visionModel string, executor *resilience.Executor) *Client {
	if strings.TrimSpace(visionModel) == "" {
		visionModel = textModel
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		textModel:   textModel,
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		executor:    executor,
	}
}

// Classifier implements the classifier port on top of a local Ollama server.
type Classifier struct {
	client     *Client
	categories []string
	pdf        classification.PDFTextExtractor
}

func NewClassifier(client *Client, categories []string, pdf classification.PDFTextExtractor) *Classifier {
	return &Classifier{client: client, categories: categories, pdf: pdf}
}

func (c *Classifier) ClassifyText(ctx context.Context, subject, body string) (domain.ClassificationResult, error) {
	raw, err := c.client.generateJSON(ctx, c.client.textModel, classification.TextPrompt(subject, body, c.categories), nil)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return classification.Parse(raw, c.categories)
}

func (c *Classifier) ClassifyImage(ctx context.Context, base64Content string) (domain.ClassificationResult, error) {
	raw, err := c.client.generateJSON(ctx, c.client.visionModel, classification.ImagePrompt(c.categories), []string{base64Content})
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return classification.Parse(raw, c.categories)
}

func (c *Classifier) ClassifyPDF(ctx context.Context, base64Content string) (domain.ClassificationResult, error) {
	if c.pdf == nil {
		return domain.ClassificationResult{}, fmt.Errorf("pdf classification is not configured")
	}
	content, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrInvalidInput, "decode pdf", err)
	}
	text, err := c.pdf.ExtractText(ctx, content)
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	raw, err := c.client.generateJSON(ctx, c.client.textModel, classification.DocumentPrompt(text, c.categories), nil)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return classification.Parse(raw, c.categories)
}

func (c *Client) generateJSON(ctx context.Context, model, prompt string, images []string) (string, error) {
	reqBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	if len(images) > 0 {
		reqBody["images"] = images
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}
