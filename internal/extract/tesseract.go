package extract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Engine turns a rendered page image into plain text.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

type tesseractEngine struct {
	language string
}

// NewTesseractEngine returns the default OCR engine backed by gosseract.
func NewTesseractEngine(language string) Engine {
	if language == "" {
		language = "eng"
	}
	return &tesseractEngine{language: language}
}

func (e *tesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
