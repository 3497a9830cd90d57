package service

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/1905060202/image-ai-processor/internal/models"
)

// ImageRecordStore is the full artifact record contract, beyond the create-only
// slice the pipeline uses.
type ImageRecordStore interface {
	ImageStore
	FindByFilename(ctx context.Context, filename string) (*models.Image, error)
	Rename(ctx context.Context, oldFilename, newFilename, newURL string, userID int64, isAdmin bool) (bool, error)
	Delete(ctx context.Context, filename string, userID int64, isAdmin bool) (bool, error)
	List(ctx context.Context, userID int64, isAdmin bool, search string, limit, offset int) ([]models.Image, int, error)
}

// ImageService covers the list/rename/delete plumbing over stored artifacts.
type ImageService struct {
	log       *slog.Logger
	records   ImageRecordStore
	artifacts ArtifactStore
}

func NewImageService(log *slog.Logger, records ImageRecordStore, artifacts ArtifactStore) *ImageService {
	return &ImageService{log: log, records: records, artifacts: artifacts}
}

type ImagePage struct {
	Images      []models.Image `json:"images"`
	CurrentPage int            `json:"current_page"`
	TotalPages  int            `json:"total_pages"`
}

func (s *ImageService) List(ctx context.Context, userID int64, isAdmin bool, search string, page int) (*ImagePage, error) {
	if page < 1 {
		page = 1
	}
	const limit = 12
	images, total, err := s.records.List(ctx, userID, isAdmin, search, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	return &ImagePage{Images: images, CurrentPage: page, TotalPages: totalPages}, nil
}

// Rename preserves the old extension, updates the record first, then moves the
// stored object. A failed object move after the record update is logged; the
// record keeps the new name so the next move attempt can be replayed manually.
func (s *ImageService) Rename(ctx context.Context, oldFilename, newName string, userID int64, isAdmin bool) (string, error) {
	if newName == "" || strings.Contains(newName, "..") || strings.Contains(newName, "/") {
		return "", fmt.Errorf("invalid filename")
	}
	ext := path.Ext(oldFilename)
	newFilename := newName
	if !strings.HasSuffix(newFilename, ext) {
		newFilename += ext
	}
	if newFilename == oldFilename {
		return newFilename, nil
	}

	newURL := s.artifacts.PublicURL(newFilename)
	updated, err := s.records.Rename(ctx, oldFilename, newFilename, newURL, userID, isAdmin)
	if err != nil {
		return "", err
	}
	if !updated {
		return "", fmt.Errorf("image %s not found or not owned", oldFilename)
	}
	if err := s.artifacts.Rename(ctx, oldFilename, newFilename); err != nil {
		s.log.Error("object rename failed after record update", "old", oldFilename, "new", newFilename, "err", err)
		return "", fmt.Errorf("rename stored object: %w", err)
	}
	return newFilename, nil
}

// Delete removes the record, then the stored object. A missing object is not
// an error once the record is gone.
func (s *ImageService) Delete(ctx context.Context, filename string, userID int64, isAdmin bool) (bool, error) {
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") {
		return false, fmt.Errorf("invalid filename")
	}
	deleted, err := s.records.Delete(ctx, filename, userID, isAdmin)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}
	if err := s.artifacts.Delete(ctx, filename); err != nil {
		s.log.Error("object delete failed after record removal", "filename", filename, "err", err)
	}
	return true, nil
}
