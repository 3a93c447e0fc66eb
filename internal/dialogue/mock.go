package dialogue

import (
	"context"
	"iter"
	"strings"
	"sync"
)

// ReplyFunc produces the reply fragments for one utterance.
type ReplyFunc func(instructions, text string) ([]string, error)

// MockProvider is a local fallback used when no dialogue key is configured.
// It echoes a short empathetic reply split into word fragments.
type MockProvider struct {
	Reply   ReplyFunc
	OpenErr error

	mu     sync.Mutex
	opened []*MockConversation
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Open(_ context.Context, instructions string) (Conversation, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	conv := &MockConversation{instructions: resolveInstructions(instructions), reply: p.Reply}
	p.mu.Lock()
	p.opened = append(p.opened, conv)
	p.mu.Unlock()
	return conv, nil
}

// Opened returns every conversation opened so far, oldest first.
func (p *MockProvider) Opened() []*MockConversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*MockConversation, len(p.opened))
	copy(out, p.opened)
	return out
}

type MockConversation struct {
	instructions string
	reply        ReplyFunc

	mu    sync.Mutex
	turns []string
}

func (c *MockConversation) Instructions() string { return c.instructions }

// Turns returns the utterances this conversation has received.
func (c *MockConversation) Turns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *MockConversation) Generate(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.mu.Lock()
		c.turns = append(c.turns, text)
		c.mu.Unlock()

		var (
			fragments []string
			err       error
		)
		if c.reply != nil {
			fragments, err = c.reply(c.instructions, text)
		} else {
			fragments = splitWords("I hear you. Tell me more about " + strings.ToLower(strings.TrimRight(text, ".!?")) + ".")
		}
		for _, f := range fragments {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if f = StripMarkdown(f); f == "" {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func splitWords(s string) []string {
	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out = append(out, w)
	}
	return out
}
