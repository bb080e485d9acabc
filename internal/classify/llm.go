package classify

import (
	"context"
	"fmt"
	"strings"

	perr "ocr-labeler/internal/errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const llmSystemPrompt = `You label physical items from noisy OCR text read off their packaging.
Reply with only the item's display name, for example "Apple (Red)".
If the text does not identify an item, reply with exactly: %s`

// LLMClassifier asks an Anthropic model for the display name.
type LLMClassifier struct {
	client   anthropic.Client
	model    string
	fallback string
	catalog  *Catalog
}

// NewLLM returns a classifier using model. Catalog names, when given, are
// offered to the model as preferred labels.
func NewLLM(apiKey, model string, catalog *Catalog, opts ...option.RequestOption) *LLMClassifier {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	fallback := "Unidentified Item"
	if catalog != nil && catalog.Fallback != "" {
		fallback = catalog.Fallback
	}
	return &LLMClassifier{
		client:   anthropic.NewClient(opts...),
		model:    model,
		fallback: fallback,
		catalog:  catalog,
	}
}

// Classify implements Classifier.
func (l *LLMClassifier) Classify(ctx context.Context, combined string) (string, error) {
	if strings.TrimSpace(combined) == "" {
		return NoDataLabel, nil
	}

	var user strings.Builder
	if l.catalog != nil && len(l.catalog.Items) > 0 {
		user.WriteString("Known items:\n")
		for _, it := range l.catalog.Items {
			fmt.Fprintf(&user, "- %s\n", it.Name)
		}
		user.WriteString("\n")
	}
	user.WriteString("OCR text:\n")
	user.WriteString(combined)

	message, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: 64,
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf(llmSystemPrompt, l.fallback)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user.String())),
		},
	})
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnknown, "anthropic classify")
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			if label := strings.Trim(strings.TrimSpace(block.Text), `"`); label != "" {
				return label, nil
			}
		}
	}
	return "", perr.New(perr.ErrorCodeUnknown, "no text content in Anthropic response")
}
