// Package gemini provides a model wrapper for the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agencymesh/core"
	"github.com/hupe1980/agencymesh/model"
	"google.golang.org/genai"
)

// ProviderName is reported in model.Info and provider errors.
const ProviderName = "gemini"

// harmCategories receive the configured safety threshold.
var harmCategories = []genai.HarmCategory{
	genai.HarmCategory("HARM_CATEGORY_HARASSMENT"),
	genai.HarmCategory("HARM_CATEGORY_HATE_SPEECH"),
	genai.HarmCategory("HARM_CATEGORY_SEXUALLY_EXPLICIT"),
	genai.HarmCategory("HARM_CATEGORY_DANGEROUS_CONTENT"),
}

// safetyFinishReasons mark a candidate withheld by content filtering.
var safetyFinishReasons = map[string]bool{
	"SAFETY":             true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

// Thresholds accepted by Options.SafetyThreshold.
var thresholds = map[string]genai.HarmBlockThreshold{
	"block_none":             genai.HarmBlockThreshold("BLOCK_NONE"),
	"block_only_high":        genai.HarmBlockThreshold("BLOCK_ONLY_HIGH"),
	"block_medium_and_above": genai.HarmBlockThreshold("BLOCK_MEDIUM_AND_ABOVE"),
	"block_low_and_above":    genai.HarmBlockThreshold("BLOCK_LOW_AND_ABOVE"),
}

// ValidThreshold reports whether name is a recognised safety threshold.
func ValidThreshold(name string) bool {
	_, ok := thresholds[strings.ToLower(name)]
	return ok
}

// Options configures the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float64
	MaxTokens       int32
	TopP            *float64
	TopK            *int64
	SafetyThreshold string // One of the ValidThreshold names; empty keeps provider defaults
	APIKey          string
	APIVersion      string
	BaseURL         string
}

// Model wraps the Gemini GenerateContent API behind the generic model.Model interface.
type Model struct {
	models Models
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       "gemini-2.0-flash",
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a Gemini model backed by the official genai client.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    opts.BaseURL,
			APIVersion: opts.APIVersion,
		},
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Model{models: &modelsWrapper{models: client.Models}, opts: opts}, nil
}

// NewModelFromModels creates a Gemini model over an existing Models implementation.
func NewModelFromModels(models Models, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{models: models, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		contents := buildContents(req.Messages)
		config := m.buildConfig(req)

		if req.Stream {
			m.handleStreaming(ctx, contents, config, out, errCh)
			return
		}

		resp, err := m.models.GenerateContent(ctx, m.opts.Model, contents, config)
		if err != nil {
			errCh <- classifyError(err)
			return
		}

		final, err := convertResponse(resp)
		if err != nil {
			errCh <- err
			return
		}
		out <- final
	}()

	return out, errCh
}

func (m *Model) handleStreaming(
	ctx context.Context,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	out chan<- model.Response,
	errCh chan<- error,
) {
	var (
		text      strings.Builder
		toolCalls []model.ToolCall
		finish    = "STOP"
		usage     *model.TokenUsage
	)

	for chunk, err := range m.models.GenerateContentStream(ctx, m.opts.Model, contents, config) {
		if err != nil {
			errCh <- classifyError(err)
			return
		}

		part, err := convertResponse(chunk)
		if err != nil {
			errCh <- err
			return
		}

		toolCalls = append(toolCalls, part.ToolCalls...)
		if part.FinishReason != "" {
			finish = part.FinishReason
		}
		if part.Usage != nil {
			usage = part.Usage
		}

		if part.Text == "" {
			continue
		}
		text.WriteString(part.Text)

		select {
		case out <- model.Response{Partial: true, Text: part.Text}:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
	}

	out <- model.Response{
		Text:         text.String(),
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage:        usage,
	}
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(m.opts.Temperature)),
		MaxOutputTokens: m.opts.MaxTokens,
	}

	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if m.opts.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*m.opts.TopP))
	}
	if m.opts.TopK != nil {
		cfg.TopK = genai.Ptr(float32(*m.opts.TopK))
	}

	if threshold, ok := thresholds[strings.ToLower(m.opts.SafetyThreshold)]; ok {
		for _, category := range harmCategories {
			cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
				Category:  category,
				Threshold: threshold,
			})
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return cfg
}

// buildContents converts conversation messages to Gemini contents.
func buildContents(messages []model.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			var parts []*genai.Part
			if msg.Text != "" {
				parts = append(parts, genai.NewPartFromText(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				_ = json.Unmarshal(tc.Arguments, &args)
				p := genai.NewPartFromFunctionCall(tc.Name, args)
				p.FunctionCall.ID = tc.ID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case model.RoleTool:
			parts := make([]*genai.Part, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				key := "output"
				if tr.IsError {
					key = "error"
				}
				p := genai.NewPartFromFunctionResponse(tr.Name, map[string]any{key: tr.Content})
				p.FunctionResponse.ID = tr.CallID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		default:
			if msg.Text != "" {
				contents = append(contents, genai.NewContentFromText(msg.Text, genai.RoleUser))
			}
		}
	}

	return contents
}

// convertResponse extracts text, tool calls and usage, surfacing safety
// blocks as non-retryable provider errors.
func convertResponse(resp *genai.GenerateContentResponse) (model.Response, error) {
	if resp == nil {
		return model.Response{}, nil
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return model.Response{}, core.NewProviderError(ProviderName, core.KindSafetyBlocked,
			fmt.Errorf("prompt blocked: %s", fb.BlockReason))
	}

	var (
		text      strings.Builder
		toolCalls []model.ToolCall
		finish    string
	)

	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if reason := string(cand.FinishReason); reason != "" {
			if safetyFinishReasons[reason] {
				return model.Response{}, core.NewProviderError(ProviderName, core.KindSafetyBlocked,
					fmt.Errorf("candidate blocked: %s", reason))
			}
			finish = reason
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				args, _ := json.Marshal(fc.Args)
				toolCalls = append(toolCalls, model.ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
			}
		}
	}

	out := model.Response{Text: text.String(), ToolCalls: toolCalls, FinishReason: finish}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}

	return out, nil
}

// classifyError maps genai failures onto the provider error taxonomy.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return core.NewProviderError(ProviderName, model.ClassifyStatus(apiErr.Code, apiErr.Message),
			fmt.Errorf("gemini api error: %w", err))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return core.NewProviderError(ProviderName, model.ClassifyStatus(apiErrPtr.Code, apiErrPtr.Message),
			fmt.Errorf("gemini api error: %w", err))
	}
	return model.ClassifyError(ProviderName, err)
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      ProviderName,
		SupportsTools: true,
	}
}
