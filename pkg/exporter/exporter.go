package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

var ErrUnauthorized = errors.New("object storage credentials are missing or invalid")

// Exporter copies a finished library image to object storage. It is a
// fire-and-forget side effect: callers get the outcome through a callback and
// the export never feeds back into task or library state.
type Exporter struct {
	client *minio.Client
	bucket string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

func New(cfg Config) (*Exporter, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrUnauthorized
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage client: %w", err)
	}
	return &Exporter{client: client, bucket: cfg.Bucket}, nil
}

// Export uploads the blob asynchronously and reports the outcome through
// done, which may be nil.
func (e *Exporter) Export(ctx context.Context, img models.LibraryImage, data []byte, done func(error)) {
	go func() {
		_, err := e.client.PutObject(ctx, e.bucket, img.FileName,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "image/png"})
		if err != nil {
			log.Printf("failed to export image %s: %v", img.ID, err)
		}
		if done != nil {
			done(err)
		}
	}()
}
