package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

const (
	CREATE_LIBRARY_TABLE = `CREATE TABLE IF NOT EXISTS library_images(
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		created_at REAL NOT NULL,
		prompt TEXT,
		model TEXT,
		width INTEGER,
		height INTEGER
	);`
)

var (
	ErrStoreUnavailable    = errors.New("library database is unavailable")
	ErrWriteFailed         = errors.New("failed to write image to disk")
	ErrMetadataWriteFailed = errors.New("failed to save image metadata")
)

type LibraryDatabase interface {
	Save(data []byte, meta models.ImageMetadata) (*models.LibraryImage, error)
	FetchPage(offset, limit int) ([]models.LibraryImage, error)
	Delete(id string) error
	ImageData(fileName string) []byte
}

type LibraryDatabaseImpl struct {
	mu  sync.Mutex
	db  *sqlx.DB
	dir string
}

// NewLibraryDatabase wires the metadata table and the blob directory. All
// reads and writes funnel through one mutex so the on-disk table never sees
// interleaved writers.
func NewLibraryDatabase(autoCreate bool, db *sqlx.DB, dir string) (*LibraryDatabaseImpl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if autoCreate {
		if _, err := db.Exec(CREATE_LIBRARY_TABLE); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return &LibraryDatabaseImpl{db: db, dir: dir}, nil
}

type libraryImageRow struct {
	ID        string         `db:"id"`
	FileName  string         `db:"file_name"`
	CreatedAt float64        `db:"created_at"`
	Prompt    sql.NullString `db:"prompt"`
	Model     sql.NullString `db:"model"`
	Width     sql.NullInt64  `db:"width"`
	Height    sql.NullInt64  `db:"height"`
}

func (r libraryImageRow) toImage() models.LibraryImage {
	img := models.LibraryImage{
		ID:        r.ID,
		FileName:  r.FileName,
		CreatedAt: time.Unix(0, int64(r.CreatedAt*float64(time.Second))),
	}
	if r.Prompt.Valid {
		img.Prompt = &r.Prompt.String
	}
	if r.Model.Valid {
		img.Model = &r.Model.String
	}
	if r.Width.Valid {
		w := int(r.Width.Int64)
		img.Width = &w
	}
	if r.Height.Valid {
		h := int(r.Height.Int64)
		img.Height = &h
	}
	return img
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}

// Save writes the blob first, then the row. A blob write failure records
// nothing; a row insert failure leaves an unreferenced blob behind, which is
// harmless.
func (l *LibraryDatabaseImpl) Save(data []byte, meta models.ImageMetadata) (*models.LibraryImage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	fileName := id + ".png"
	createdAt := time.Now()

	if err := os.WriteFile(filepath.Join(l.dir, fileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	_, err := l.db.Exec(`INSERT INTO library_images(id, file_name, created_at, prompt, model, width, height)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, fileName, float64(createdAt.UnixNano())/float64(time.Second),
		nullString(meta.Prompt), nullString(meta.Model), nullInt(meta.Width), nullInt(meta.Height))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataWriteFailed, err)
	}

	img := models.LibraryImage{
		ID:        id,
		FileName:  fileName,
		CreatedAt: createdAt,
	}
	if meta.Prompt != "" {
		img.Prompt = &meta.Prompt
	}
	if meta.Model != "" {
		img.Model = &meta.Model
	}
	if meta.Width != 0 {
		w := meta.Width
		img.Width = &w
	}
	if meta.Height != 0 {
		h := meta.Height
		img.Height = &h
	}
	return &img, nil
}

func (l *LibraryDatabaseImpl) FetchPage(offset, limit int) ([]models.LibraryImage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var rows []libraryImageRow
	err := l.db.Select(&rows, `SELECT id, file_name, created_at, prompt, model, width, height
		FROM library_images ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch library page: %w", err)
	}

	images := make([]models.LibraryImage, 0, len(rows))
	for _, r := range rows {
		images = append(images, r.toImage())
	}
	return images, nil
}

// Delete is best-effort: the blob is removed if present, the row is removed
// regardless of the blob outcome.
func (l *LibraryDatabaseImpl) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fileName string
	err := l.db.Get(&fileName, `SELECT file_name FROM library_images WHERE id=?`, id)
	if err == nil {
		if rmErr := os.Remove(filepath.Join(l.dir, fileName)); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("failed to remove blob for %s: %v", id, rmErr)
		}
	}

	if _, err := l.db.Exec(`DELETE FROM library_images WHERE id=?`, id); err != nil {
		return fmt.Errorf("failed to delete library row %s: %w", id, err)
	}
	return nil
}

// ImageData reads a blob by file name. Absent files yield nil.
func (l *LibraryDatabaseImpl) ImageData(fileName string) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(l.dir, fileName))
	if err != nil {
		return nil
	}
	return data
}
