package dataset

import (
	"bytes"
	"context"
	"fmt"
	"os"

	perr "ocr-labeler/internal/errors"
)

// Open returns the store for driver ("json" or "sqlite") at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "json":
		return OpenJSON(path), nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, perr.Invalidf("unknown store driver %q", driver)
	}
}

// extractPrompt is the instruction given for every OCR attempt in the chat dataset.
const extractPrompt = "Extract only the company name, item name, category, and storage recommendation " +
	"from the OCR text below. Respond concisely in JSON format without any explanation or extra text.\n\n"

// Turn is one message of a chat-format training conversation.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// ToChatDataset turns each OCR attempt of each record into a two-turn
// conversation: the OCR text as the prompt, the operator's metadata as the answer.
func ToChatDataset(records []ItemRecord) ([][]Turn, error) {
	out := make([][]Turn, 0, len(records))
	for _, rec := range records {
		answer, err := encodeJSON(Metadata{
			CompanyName:           rec.CompanyName,
			ItemName:              rec.ItemName,
			Category:              rec.Category,
			StorageRecommendation: rec.StorageRecommendation,
		}, "    ")
		if err != nil {
			return nil, err
		}
		answer = bytes.TrimSuffix(answer, []byte("\n"))
		for _, text := range rec.OCRTextList {
			out = append(out, []Turn{
				{From: "human", Value: extractPrompt + text},
				{From: "gpt", Value: string(answer)},
			})
		}
	}
	return out, nil
}

// ExportChat writes the chat-format dataset for everything in store to path
// and returns the number of conversations written.
func ExportChat(ctx context.Context, store Store, path string) (int, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	convs, err := ToChatDataset(records)
	if err != nil {
		return 0, perr.IOFailuref(err, "build chat dataset")
	}
	data, err := encodeJSON(convs, "  ")
	if err != nil {
		return 0, perr.IOFailuref(err, "encode chat dataset")
	}
	if err := writeAtomic(path, data); err != nil {
		return 0, err
	}
	return len(convs), nil
}

// WriteBufferText dumps the live buffer consensus to a plain text file.
func WriteBufferText(path, text string) error {
	if text == "" {
		return perr.ErrNoBufferContent
	}
	var b bytes.Buffer
	b.WriteString("=== Current Live OCR Buffer Texts ===\n\n")
	fmt.Fprintln(&b, text)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		return perr.IOFailuref(err, "write %s", path)
	}
	return nil
}
