package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/classification"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

const maxTokens = 1024

type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
}

// Classifier implements the classifier port with chat completions in JSON mode.
type Classifier struct {
	client      *openai.Client
	textModel   string
	visionModel string
	categories  []string
	pdf         classification.PDFTextExtractor
	executor    *resilience.Executor
}

func NewClassifier(
	cfg Config,
	categories []string,
	pdf classification.PDFTextExtractor,
	executor *resilience.Executor,
) *Classifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: resilience.NewThrottleTransport(nil),
	}

	textModel := cfg.TextModel
	if textModel == "" {
		textModel = openai.GPT4oMini
	}
	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = textModel
	}

	return &Classifier{
		client:      openai.NewClientWithConfig(clientCfg),
		textModel:   textModel,
		visionModel: visionModel,
		categories:  categories,
		pdf:         pdf,
		executor:    executor,
	}
}

func (c *Classifier) ClassifyText(ctx context.Context, subject, body string) (domain.ClassificationResult, error) {
	return c.complete(ctx, "openai.classify_text", c.textModel, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: classification.TextPrompt(subject, body, c.categories),
	})
}

func (c *Classifier) ClassifyImage(ctx context.Context, base64Content string) (domain.ClassificationResult, error) {
	mimeType := http.DetectContentType(decodePrefix(base64Content))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}

	return c.complete(ctx, "openai.classify_image", c.visionModel, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: classification.ImagePrompt(c.categories)},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + mimeType + ";base64," + base64Content,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	})
}

func (c *Classifier) ClassifyPDF(ctx context.Context, base64Content string) (domain.ClassificationResult, error) {
	if c.pdf == nil {
		return domain.ClassificationResult{}, errors.New("pdf classification is not configured")
	}
	content, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrInvalidInput, "decode pdf", err)
	}
	text, err := c.pdf.ExtractText(ctx, content)
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	return c.complete(ctx, "openai.classify_pdf", c.textModel, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: classification.DocumentPrompt(text, c.categories),
	})
}

func (c *Classifier) complete(
	ctx context.Context,
	operation string,
	model string,
	message openai.ChatCompletionMessage,
) (domain.ClassificationResult, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise email triage assistant. Answer with JSON only."},
			message,
		},
	}
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = 0
	}

	var content string
	call := func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("chat completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyOpenAIError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.ClassificationResult{}, wrapTemporaryIfNeeded(operation, fmt.Errorf("create chat completion: %w", err))
	}
	return classification.Parse(content, c.categories)
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func decodePrefix(b64 string) []byte {
	const sniffLen = 512
	n := base64.StdEncoding.EncodedLen(sniffLen)
	if len(b64) > n {
		b64 = b64[:n]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return raw
}
