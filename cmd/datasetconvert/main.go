// Command datasetconvert turns the item dataset into a chat-format training
// set: one human/gpt conversation per OCR attempt.
//
// Usage: datasetconvert [-in item_dataset.json] [-out item_dataset_chat.json] [-driver json|sqlite]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"ocr-labeler/internal/dataset"
)

var (
	flagIn     = flag.String("in", dataset.DefaultFile, "Dataset to read")
	flagOut    = flag.String("out", "item_dataset_chat.json", "Chat dataset to write")
	flagDriver = flag.String("driver", "json", "Store driver of the input (json or sqlite)")
)

func main() {
	flag.Parse()

	if _, err := os.Stat(*flagIn); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := dataset.Open(*flagDriver, *flagIn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", *flagIn, err)
		os.Exit(1)
	}
	defer store.Close()

	n, err := dataset.ExportChat(context.Background(), store, *flagOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error converting %s: %v\n", *flagIn, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d conversations to %s\n", n, *flagOut)
}
