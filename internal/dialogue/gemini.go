package dialogue

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider opens chat sessions on the Gemini API. The instructions are
// sent as the first user turn of the chat history.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrServiceUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Client exposes the underlying API client so other components can share it.
func (p *GeminiProvider) Client() *genai.Client { return p.client }

func (p *GeminiProvider) Open(ctx context.Context, instructions string) (Conversation, error) {
	history := []*genai.Content{
		genai.NewContentFromText(resolveInstructions(instructions), genai.RoleUser),
	}
	chat, err := p.client.Chats.Create(ctx, p.model, nil, history)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &geminiConversation{chat: chat}, nil
}

type geminiConversation struct {
	chat *genai.Chat
}

func (c *geminiConversation) Generate(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range c.chat.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				yield("", err)
				return
			}
			if resp == nil {
				continue
			}
			fragment := StripMarkdown(resp.Text())
			if fragment == "" {
				continue
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}
