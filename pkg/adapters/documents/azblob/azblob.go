// Package azblob resolves RFP references to blobs in an Azure Storage
// container.
package azblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/aescanero/grantflow/pkg/domain"
	"go.uber.org/zap"
)

// DefaultMaxBytes bounds the size of a downloaded document.
const DefaultMaxBytes = 8 << 20

// Config configures the blob source.
type Config struct {
	ConnectionString string
	Container        string
	Prefix           string
	MaxBytes         int64
}

// Source downloads documents from a container.
type Source struct {
	client    *azblob.Client
	container string
	prefix    string
	maxBytes  int64
	logger    *zap.Logger
}

// New creates a blob source from a connection string.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.Container == "" {
		return nil, domain.NewValidationError("container", "blob container is required")
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *azblob.Client, cfg Config, logger *zap.Logger) *Source {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Source{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		maxBytes:  cfg.MaxBytes,
		logger:    logger.Named("azblob"),
	}
}

// Fetch implements ports.DocumentSource.
func (s *Source) Fetch(ctx context.Context, ref string) (*domain.Document, error) {
	key, err := s.key(ref)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, classify(ref, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, domain.NewTransientIOError("blob download", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, domain.NewValidationError("rfpDocument", fmt.Sprintf("document %s exceeds %d bytes", ref, s.maxBytes))
	}

	meta := make(map[string]string, len(resp.Metadata)+1)
	for k, v := range resp.Metadata {
		if v != nil {
			meta[k] = *v
		}
	}
	if resp.ContentType != nil {
		meta["contentType"] = *resp.ContentType
	}

	s.logger.Debug("blob downloaded",
		zap.String("container", s.container),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return &domain.Document{ID: ref, Text: string(data), Metadata: meta}, nil
}

func (s *Source) key(ref string) (string, error) {
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" || strings.Contains(ref, "..") {
		return "", domain.NewValidationError("rfpDocument.id", fmt.Sprintf("invalid document reference %q", ref))
	}
	if s.prefix == "" {
		return ref, nil
	}
	return s.prefix + "/" + ref, nil
}

// classify maps storage errors onto the domain taxonomy so retries only
// happen for throttling and server faults.
func classify(ref string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthenticationFailed,
		bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions):
		return fmt.Errorf("%w: %s: %v", domain.ErrPermissionDenied, ref, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return &domain.StatusError{Code: respErr.StatusCode, Err: fmt.Errorf("failed to download %s: %w", ref, err)}
	}
	return domain.NewTransientIOError("blob download", err)
}
