package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	infrahttp "github.com/jonesrussell/ocrbase/infrastructure/http"
	"github.com/jonesrussell/ocrbase/infrastructure/retry"
)

const (
	ProviderAnthropic = "anthropic"
	DefaultModel      = "claude-sonnet-4-5"
	DefaultMaxTokens  = 8192

	toolName        = "record_extraction"
	systemPrompt    = "You extract structured data from documents. The document was produced by OCR and is given as markdown. Call the " + toolName + " tool exactly once with the extracted values. Use null for fields the document does not contain and never invent values."
	maxSchemaNameLn = 64
)

// Config selects the model and endpoint.
type Config struct {
	APIKey    string        `env:"ANTHROPIC_API_KEY"  json:"-"          yaml:"api_key"`
	Model     string        `env:"LLM_MODEL"          yaml:"model"`
	BaseURL   string        `env:"ANTHROPIC_BASE_URL" yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Anthropic forces a single tool call whose input schema is the caller's
// JSON Schema, so the reply is always a JSON object.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropic(cfg Config) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	// Retries belong to the job pipeline so every attempt is counted there.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Timeout})),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (a *Anthropic) Provider() string { return ProviderAnthropic }
func (a *Anthropic) Model() string    { return a.model }

func (a *Anthropic) Extract(ctx context.Context, req Request) (*Result, error) {
	schema, err := inputSchema(req.Schema)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
			Name:        toolName,
			Description: anthropic.String(toolDescription(req.SchemaName)),
			InputSchema: schema,
		}}},
		ToolChoice: anthropic.ToolChoiceParamOfTool(toolName),
	})
	if err != nil {
		return nil, classify(err)
	}

	tokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == toolName && len(block.Input) > 0 {
			if !json.Valid(block.Input) {
				return nil, fmt.Errorf("model returned invalid json: %w", ErrNoResult)
			}
			return &Result{JSON: block.Input, TokenCount: tokens}, nil
		}
	}
	return nil, fmt.Errorf("stop reason %s: %w", msg.StopReason, ErrNoResult)
}

// inputSchema maps a JSON Schema document onto the tool input schema. Keys
// other than properties and required travel as extra fields.
func inputSchema(raw json.RawMessage) (anthropic.ToolInputSchemaParam, error) {
	var out anthropic.ToolInputSchemaParam
	if len(raw) == 0 || string(raw) == "null" {
		out.ExtraFields = map[string]any{"additionalProperties": true}
		return out, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return out, fmt.Errorf("schema is not a json object: %w", err)
	}
	if t, ok := doc["type"].(string); ok && t != "object" {
		return out, fmt.Errorf("schema root must be an object, got %q", t)
	}
	out.Properties = doc["properties"]
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if s, isStr := r.(string); isStr {
				out.Required = append(out.Required, s)
			}
		}
	}
	extra := map[string]any{}
	for k, v := range doc {
		switch k {
		case "type", "properties", "required", "$schema":
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		out.ExtraFields = extra
	}
	return out, nil
}

func toolDescription(schemaName string) string {
	name := strings.TrimSpace(schemaName)
	if name == "" {
		return "Record the data extracted from the document."
	}
	if len(name) > maxSchemaNameLn {
		name = name[:maxSchemaNameLn]
	}
	return "Record the " + name + " extracted from the document."
}

func userPrompt(req Request) string {
	var b strings.Builder
	if req.Hints != "" {
		b.WriteString("Extraction hints:\n")
		b.WriteString(req.Hints)
		b.WriteString("\n\n")
	}
	b.WriteString("<document>\n")
	b.WriteString(req.Markdown)
	b.WriteString("\n</document>")
	return b.String()
}

// classify marks client errors other than throttling and timeouts permanent.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("anthropic: %w", err)
		case apiErr.StatusCode >= http.StatusBadRequest:
			return retry.Permanent(fmt.Errorf("anthropic: %w", err))
		}
	}
	return fmt.Errorf("anthropic: %w", err)
}
