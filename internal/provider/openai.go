package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/config"
	"github.com/kdduha/eyeris/internal/preprocess"
	"github.com/kdduha/eyeris/internal/prompt"
)

// OpenAI talks to any chat-completions compatible endpoint that accepts
// image_url content parts.
type OpenAI struct {
	modelSet
	client    openai.Client
	maxTokens int64
	jsonMode  bool
}

func NewOpenAI(cfg config.OpenAIConfig, opts ...option.RequestOption) *OpenAI {
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		// one configured retry lives in the orchestrator
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}

	return &OpenAI{
		modelSet:  modelSet{defaultModel: cfg.Model, allowed: cfg.Models},
		client:    openai.NewClient(append(base, opts...)...),
		maxTokens: cfg.MaxTokens,
		jsonMode:  cfg.JSONMode,
	}
}

func (o *OpenAI) Name() string {
	return config.ProviderOpenAI
}

func (o *OpenAI) Analyze(ctx context.Context, img *preprocess.PreparedImage, payload prompt.Payload, model string) (Response, error) {
	params := o.buildParams(img, payload, model)

	var httpResp *http.Response
	resp, err := o.client.Chat.Completions.New(ctx, params, option.WithResponseInto(&httpResp))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, apperrors.ProviderError(o.Name(), apiErr.StatusCode, apiErr.RawJSON())
		}
		// a 2xx reply arrived but its body is not a chat completion
		if ctx.Err() == nil && !isTimeout(err) && httpResp != nil && httpResp.StatusCode < http.StatusMultipleChoices {
			return Response{}, apperrors.MalformedAnalysis(o.Name(), "decode openai response", err)
		}
		return Response{}, transportError(ctx, o.Name(), err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, apperrors.MalformedAnalysis(o.Name(), "response contains no choices", nil)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Response{}, apperrors.MalformedAnalysis(o.Name(), "response content is empty", nil)
	}

	return Response{
		Text: text,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}.normalize(),
	}, nil
}

func (o *OpenAI) buildParams(img *preprocess.PreparedImage, payload prompt.Payload, model string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(payload.Text),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: img.DataURL(),
				}),
			}),
		},
	}

	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(o.maxTokens)
	}

	if o.jsonMode && payload.ExpectJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}
