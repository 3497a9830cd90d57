package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/1905060202/image-ai-processor/internal/models"
)

var ErrFilenameTaken = errors.New("filename already exists")

type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) Create(ctx context.Context, img *models.Image) (*models.Image, error) {
	const query = `
INSERT INTO images (filename, prompt, original_image, user_id, url)
VALUES (?, ?, NULLIF(?, ''), ?, ?)`
	res, err := r.db.ExecContext(ctx, query, img.Filename, img.Prompt, img.OriginalImage, img.UserID, img.URL)
	if err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	img.ID = id
	return img, nil
}

func (r *ImageRepository) FindByFilename(ctx context.Context, filename string) (*models.Image, error) {
	const query = `
SELECT id, filename, COALESCE(prompt, ''), COALESCE(original_image, ''), user_id, url, created_at
FROM images WHERE filename = ?`
	row := r.db.QueryRowContext(ctx, query, filename)
	var img models.Image
	if err := row.Scan(&img.ID, &img.Filename, &img.Prompt, &img.OriginalImage, &img.UserID, &img.URL, &img.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan image: %w", err)
	}
	return &img, nil
}

// Rename updates the stored filename and URL. Non-admins can only touch their
// own images; a taken target filename is reported as ErrFilenameTaken.
func (r *ImageRepository) Rename(ctx context.Context, oldFilename, newFilename, newURL string, userID int64, isAdmin bool) (bool, error) {
	existing, err := r.FindByFilename(ctx, newFilename)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, ErrFilenameTaken
	}

	query := `UPDATE images SET filename = ?, url = ? WHERE filename = ?`
	args := []any{newFilename, newURL, oldFilename}
	if !isAdmin {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("rename image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ImageRepository) Delete(ctx context.Context, filename string, userID int64, isAdmin bool) (bool, error) {
	query := `DELETE FROM images WHERE filename = ?`
	args := []any{filename}
	if !isAdmin {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns images visible to the user (all of them for admins), optionally
// filtered by a substring match on filename or prompt.
func (r *ImageRepository) List(ctx context.Context, userID int64, isAdmin bool, search string, limit, offset int) ([]models.Image, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if !isAdmin {
		where += " AND user_id = ?"
		args = append(args, userID)
	}
	if search != "" {
		where += " AND (filename LIKE ? OR prompt LIKE ?)"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	query := `
SELECT id, filename, COALESCE(prompt, ''), COALESCE(original_image, ''), user_id, url, created_at
FROM images` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.Filename, &img.Prompt, &img.OriginalImage, &img.UserID, &img.URL, &img.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan image row: %w", err)
		}
		images = append(images, img)
	}
	return images, total, rows.Err()
}
