package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/resilience"
)

const objectScheme = "s3://"

// ObjectGetter downloads objects to local files
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucket, key, path string) error
}

// WorkbookSource turns a workbook reference into a readable local file
type WorkbookSource struct {
	objects ObjectGetter
	tempDir string
	breaker *resilience.CircuitBreaker
	logger  *zap.Logger
}

// NewWorkbookSource creates a source. objects may be nil, in which case only local paths resolve.
func NewWorkbookSource(objects ObjectGetter, tempDir string, logger *zap.Logger) *WorkbookSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := resilience.StorageConfig("workbook-storage")
	cfg.OnStateChange = resilience.LogStateChanges(logger)
	cfg.Ignore = IsNotFound
	return &WorkbookSource{
		objects: objects,
		tempDir: tempDir,
		breaker: resilience.NewCircuitBreaker(cfg),
		logger:  logger,
	}
}

// ParseObjectPath splits s3://bucket/key
func ParseObjectPath(path string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(path, objectScheme) {
		return "", "", false
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(path, objectScheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Resolve returns a local path for path and a cleanup function that is always safe to call.
// Local paths pass through untouched; s3://bucket/key is downloaded to a temporary file.
func (s *WorkbookSource) Resolve(ctx context.Context, path string) (string, func(), error) {
	noop := func() {}

	if !strings.HasPrefix(path, objectScheme) {
		return path, noop, nil
	}

	bucket, key, ok := ParseObjectPath(path)
	if !ok {
		return "", noop, domain.ErrWorkbookUnreadable(path, fmt.Errorf("malformed object path"))
	}
	if s.objects == nil {
		return "", noop, domain.ErrWorkbookUnreadable(path, fmt.Errorf("object storage is not configured"))
	}

	f, err := os.CreateTemp(s.tempDir, "workbook-*"+filepath.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("creating temp workbook: %w", err)
	}
	local := f.Name()
	f.Close()
	cleanup := func() {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove temp workbook", zap.String("path", local), zap.Error(err))
		}
	}

	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.objects.FGetObject(ctx, bucket, key, local)
	})
	if err != nil {
		cleanup()
		return "", noop, domain.ErrWorkbookUnreadable(path, err)
	}

	s.logger.Debug("workbook downloaded",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("local", local),
	)
	return local, cleanup, nil
}
