package interfaces

import (
	"context"
)

// GenerationClient synthesises text for a prompt. Output is not deterministic.
type GenerationClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ImageFetcher downloads a remote image as a base64 data URI.
type ImageFetcher interface {
	FetchAsDataURI(ctx context.Context, sourceURL string) (string, error)
}
