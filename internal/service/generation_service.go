package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/1905060202/image-ai-processor/internal/config"
	"github.com/1905060202/image-ai-processor/internal/models"
	"github.com/1905060202/image-ai-processor/internal/provider"
)

var ErrPromptRequired = errors.New("prompt cannot be empty")
var ErrImagesRequired = errors.New("image-to-image requires at least one input image")

// ImageStore persists artifact records.
type ImageStore interface {
	Create(ctx context.Context, img *models.Image) (*models.Image, error)
}

// ArtifactStore holds the generated image bytes, keyed by filename.
type ArtifactStore interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
	Rename(ctx context.Context, oldFilename, newFilename string) error
	PublicURL(filename string) string
}

// InputImage is one uploaded source image for image-to-image generation.
type InputImage struct {
	Data []byte
	Mime string
}

type GenerateInput struct {
	Kind     models.OperationType
	Prompt   string
	Images   []InputImage
	Provider string
	Size     string
	UserID   int64
	IsAdmin  bool
}

type GenerateOutput struct {
	Image    *models.Image
	Charged  int
	UsedFree bool
	Credits  int
	Cached   bool
}

// GenerationService runs the pipeline: permission gate, provider call,
// normalization, artifact storage, settlement. Nothing is charged unless an
// artifact was durably produced.
type GenerationService struct {
	cfg        config.Config
	log        *slog.Logger
	credits    *CreditService
	images     ImageStore
	artifacts  ArtifactStore
	doubao     provider.Client
	nanoBanana provider.Client
	normalizer *provider.Normalizer
}

func NewGenerationService(cfg config.Config, log *slog.Logger, credits *CreditService, images ImageStore, artifacts ArtifactStore, doubao, nanoBanana provider.Client, normalizer *provider.Normalizer) *GenerationService {
	return &GenerationService{
		cfg:        cfg,
		log:        log,
		credits:    credits,
		images:     images,
		artifacts:  artifacts,
		doubao:     doubao,
		nanoBanana: nanoBanana,
		normalizer: normalizer,
	}
}

func (s *GenerationService) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, ErrPromptRequired
	}

	var decision Decision
	var err error
	switch in.Kind {
	case models.OperationTextToImage:
		decision, err = s.credits.CheckTextToImage(ctx, in.UserID, in.IsAdmin)
	case models.OperationImageToImage:
		if len(in.Images) == 0 {
			return nil, ErrImagesRequired
		}
		decision, err = s.credits.CheckImageToImage(ctx, in.UserID, in.IsAdmin)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", in.Kind)
	}
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, provider.PermissionDenied(decision.Reason, decision.Credits, decision.Required)
	}

	client, opts, err := s.resolveProvider(in.Provider, in.Size)
	if err != nil {
		return nil, err
	}

	var payload *provider.Payload
	switch in.Kind {
	case models.OperationTextToImage:
		payload, err = client.Generate(ctx, in.Prompt, opts)
	case models.OperationImageToImage:
		images := make([]string, len(in.Images))
		for i, img := range in.Images {
			images[i] = base64.StdEncoding.EncodeToString(img.Data)
		}
		if len(in.Images) > 0 && in.Images[0].Mime != "" {
			opts.Mime = in.Images[0].Mime
		}
		payload, err = client.GenerateFromImages(ctx, images, in.Prompt, opts)
	}
	if err != nil {
		return nil, err
	}

	data, format, err := s.normalizer.Normalize(ctx, payload)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("gen-%s.%s", uuid.NewString(), format)
	url, err := s.artifacts.Upload(ctx, filename, data, contentTypeForFormat(format))
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	record := &models.Image{
		Filename:      filename,
		Prompt:        in.Prompt,
		OriginalImage: originalImageName(in),
		UserID:        in.UserID,
		URL:           url,
	}
	record, err = s.images.Create(ctx, record)
	if err != nil {
		// The artifact is already stored; keep it and surface the failure.
		s.log.Error("artifact record insert failed, object kept for reconciliation", "filename", filename, "err", err)
		return nil, fmt.Errorf("record artifact: %w", err)
	}

	out := &GenerateOutput{Image: record, Cached: payload.Cached}
	outcome, err := s.credits.Settle(ctx, in.UserID, in.Kind, decision, &record.ID)
	if err != nil {
		// Never discard generated work over a bookkeeping failure; log the
		// inconsistency for manual reconciliation and hand the artifact back.
		s.log.Error("settlement failed after artifact stored", "user", in.UserID, "image", record.ID, "err", err)
		return out, nil
	}
	out.Charged = outcome.Cost
	out.UsedFree = outcome.UsedFree
	out.Credits = outcome.Credits
	return out, nil
}

// resolveProvider picks the upstream client and resolves the doubao model
// variant from configuration. A missing required model id is a configuration
// error, not something to retry.
func (s *GenerationService) resolveProvider(name, size string) (provider.Client, provider.Options, error) {
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	name = strings.ToLower(name)
	opts := provider.Options{Size: size}

	if strings.HasPrefix(name, "doubao") {
		if s.doubao == nil {
			return nil, opts, provider.ConfigMissing("doubao is not configured; set DOUBAO_API_KEY")
		}
		switch name {
		case "doubao-4.5":
			if s.cfg.DoubaoModel45 == "" {
				return nil, opts, provider.ConfigMissing("doubao 4.5 model is not configured; set DOUBAO_IMAGE_MODEL_4_5")
			}
			opts.Model = s.cfg.DoubaoModel45
		default: // doubao, doubao-4.0
			if s.cfg.DoubaoModel == "" {
				return nil, opts, provider.ConfigMissing("doubao model is not configured; set DOUBAO_IMAGE_MODEL")
			}
			opts.Model = s.cfg.DoubaoModel
		}
		return s.doubao, opts, nil
	}

	if s.nanoBanana == nil {
		return nil, opts, provider.ConfigMissing("nano-banana is not configured; set NANO_BANANA_API_KEY")
	}
	return s.nanoBanana, opts, nil
}

func originalImageName(in GenerateInput) string {
	if in.Kind != models.OperationImageToImage || len(in.Images) == 0 {
		return ""
	}
	return fmt.Sprintf("src-%d-images", len(in.Images))
}

func contentTypeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
