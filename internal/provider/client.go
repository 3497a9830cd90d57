// Package provider talks to the upstream image generation services, bounds
// the load we put on them, and classifies their failures into a stable
// taxonomy the rest of the pipeline can act on.
package provider

import (
	"context"
	"encoding/json"
)

// Client is the contract every upstream provider implements. Generate issues a
// text-to-image call; GenerateFromImages issues an image-to-image call with
// base64-encoded input images. Both return the raw upstream payload for the
// normalizer to reconcile.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Payload, error)
	GenerateFromImages(ctx context.Context, images []string, prompt string, opts Options) (*Payload, error)
}

// Options tunes a single generation call.
type Options struct {
	// Model overrides the client's default model identifier.
	Model string
	// Size is the requested output size, e.g. "1024x1024".
	Size string
	// N is the number of images to request; providers return the first.
	N int
	// Mime is the content type of the input images for image-to-image calls.
	Mime string
}

// Payload is a raw upstream response. Cached marks results served from the
// response cache without a network call.
type Payload struct {
	Raw    json.RawMessage
	Cached bool
}
