package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/councilbot/councilbot/internal/session"
)

const (
	defaultGeminiModel   = "gemini-1.5-flash"
	defaultGeminiTimeout = 60 * time.Second
	generateContentVerb  = "generateContent"
)

// GeminiOptions configures a GeminiGateway.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiGateway implements Gateway with the Gemini API.
type GeminiGateway struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGateway creates a Gemini client. Timeout bounds each Generate call.
func NewGeminiGateway(ctx context.Context, opts GeminiOptions) (*GeminiGateway, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultGeminiTimeout
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(base, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGateway{client: client, model: model, timeout: timeout}, nil
}

// Model returns the configured model identifier.
func (g *GeminiGateway) Model() string {
	return g.model
}

func (g *GeminiGateway) Generate(ctx context.Context, instruction string, turns []session.Turn) (string, error) {
	contents, err := toContents(turns)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(instruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", failure(err, "gemini request failed")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := "no candidates"
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].FinishReason != "" {
			reason = "finish reason " + string(resp.Candidates[0].FinishReason)
		}
		return "", failure(nil, "gemini returned no text (%s)", reason)
	}
	return text, nil
}

// toContents maps turns onto Gemini roles. History turns without text are
// dropped because the API rejects empty parts.
func toContents(turns []session.Turn) ([]*genai.Content, error) {
	history, current, ok := session.Split(turns)
	if !ok {
		return nil, failure(nil, "nothing to respond to")
	}
	if strings.TrimSpace(current.Text) == "" {
		return nil, failure(nil, "the current message is empty")
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(t.Text, geminiRole(t.Role)))
	}
	contents = append(contents, genai.NewContentFromText(current.Text, geminiRole(current.Role)))
	return contents, nil
}

func geminiRole(r session.Role) genai.Role {
	if r == session.RoleSelf {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// ListModels returns models that support content generation.
func (g *GeminiGateway) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out []ModelInfo
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list gemini models: %w", err)
		}
		if m == nil || !slices.Contains(m.SupportedActions, generateContentVerb) {
			continue
		}
		out = append(out, ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Actions:     m.SupportedActions,
		})
	}
	return out, nil
}
