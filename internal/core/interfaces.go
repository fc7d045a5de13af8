package core

import "context"

// Provider defines the upstream operations the client relies on
type Provider interface {
	// ChatCompletion executes a chat completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// GenerateImage executes an image generation request
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}
