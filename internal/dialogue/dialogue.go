// Package dialogue opens conversational contexts with a text-generation
// service and streams replies back as plain-prose fragments.
package dialogue

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"strings"
)

// DefaultInstructions seed a conversation when the coach carries no prompt.
const DefaultInstructions = "You are a helpful assistant. You know everything and can answer user queries very easily. Be calm, empathetic, and concise. Answer in not more than 2 lines"

var ErrServiceUnavailable = errors.New("dialogue service unavailable")

type Provider interface {
	// Open starts a new conversation seeded with instructions.
	Open(ctx context.Context, instructions string) (Conversation, error)
}

type Conversation interface {
	// Generate sends one user utterance and yields the reply fragments. The
	// sequence is finite and single-use.
	Generate(ctx context.Context, text string) iter.Seq2[string, error]
}

var (
	mdBold       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.*?)\*`)
	mdInlineCode = regexp.MustCompile("`(.*?)`")
	mdHeader     = regexp.MustCompile(`(?m)^#+\s+`)
	mdImage      = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	mdLink       = regexp.MustCompile(`\[.*?\]\(.*?\)`)
)

// StripMarkdown removes emphasis markers, inline code ticks, headers, images
// and links so the text can be spoken and logged as plain prose. Surrounding
// whitespace is preserved because fragments are concatenated downstream.
func StripMarkdown(text string) string {
	text = mdBold.ReplaceAllString(text, "$1")
	text = mdItalic.ReplaceAllString(text, "$1")
	text = mdInlineCode.ReplaceAllString(text, "$1")
	text = mdHeader.ReplaceAllString(text, "")
	text = mdImage.ReplaceAllString(text, "")
	return mdLink.ReplaceAllString(text, "")
}

func resolveInstructions(instructions string) string {
	if strings.TrimSpace(instructions) == "" {
		return DefaultInstructions
	}
	return instructions
}
