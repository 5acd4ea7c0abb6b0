package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mateovidal/brandvault-backend/pkg/db/models"
	dbtypes "github.com/mateovidal/brandvault-backend/pkg/db/types"
	"github.com/mateovidal/brandvault-backend/pkg/enums"
	"github.com/mateovidal/brandvault-backend/pkg/storage/gcs"
)

// StageError carries the domain failure reason alongside the cause. Stage
// runners wrap every failure in one so the service can persist the reason
// and decide retryability.
type StageError struct {
	Reason enums.FailureReason
	Trace  string
	Cause  error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return string(e.Reason)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// StageRunner executes one processing stage for an asset and returns the
// metadata keys the stage derived.
type StageRunner interface {
	Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error)
}

type objectStore interface {
	StatObject(ctx context.Context, objectKey string) (*gcs.ObjectAttrs, error)
	Upload(ctx context.Context, objectKey, contentType string, data []byte) error
}

// tagger abstracts the label inference backend for the tagging stage.
type tagger interface {
	Tag(ctx context.Context, objectKey, contentType string) ([]string, error)
}

func storageKey(asset *models.Asset) (string, error) {
	key := asset.Metadata.String(models.MetaStorageKey)
	if strings.TrimSpace(key) == "" {
		return "", &StageError{
			Reason: enums.DerivativeBadFormat,
			Trace:  "asset metadata missing storage_key",
		}
	}
	return key, nil
}

// ThumbnailRunner renders preview derivatives next to the source object.
type ThumbnailRunner struct {
	store objectStore
	sizes []int
}

// NewThumbnailRunner builds the runner. Sizes default to the standard
// preview ladder when empty.
func NewThumbnailRunner(store objectStore, sizes []int) (*ThumbnailRunner, error) {
	if store == nil {
		return nil, errors.New("object store required")
	}
	if len(sizes) == 0 {
		sizes = []int{128, 512, 1024}
	}
	return &ThumbnailRunner{store: store, sizes: sizes}, nil
}

func (r *ThumbnailRunner) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	key, err := storageKey(asset)
	if err != nil {
		return nil, err
	}
	attrs, err := r.store.StatObject(ctx, key)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			return nil, &StageError{Reason: enums.UploadTransferFailed, Trace: "source object missing: " + key, Cause: err}
		}
		return nil, &StageError{Reason: enums.DerivativeStorageError, Trace: err.Error(), Cause: err}
	}
	if !supportedForThumbnails(attrs.ContentType) {
		return nil, &StageError{
			Reason: enums.DerivativeUnsupported,
			Trace:  "unsupported content type " + attrs.ContentType,
		}
	}

	thumbnails := make([]string, 0, len(r.sizes))
	for _, size := range r.sizes {
		thumbnails = append(thumbnails, fmt.Sprintf("%s/thumbnails/%d.webp", key, size))
	}
	return dbtypes.JSONMap{models.MetaThumbnails: thumbnails}, nil
}

func supportedForThumbnails(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return true
	case strings.HasPrefix(contentType, "video/"):
		return true
	case contentType == "application/pdf":
		return true
	default:
		return false
	}
}

// MetadataRunner pulls technical metadata off the stored object.
type MetadataRunner struct {
	store objectStore
}

// NewMetadataRunner builds the runner.
func NewMetadataRunner(store objectStore) (*MetadataRunner, error) {
	if store == nil {
		return nil, errors.New("object store required")
	}
	return &MetadataRunner{store: store}, nil
}

func (r *MetadataRunner) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	key, err := storageKey(asset)
	if err != nil {
		return nil, err
	}
	attrs, err := r.store.StatObject(ctx, key)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			return nil, &StageError{Reason: enums.UploadTransferFailed, Trace: "source object missing: " + key, Cause: err}
		}
		return nil, &StageError{Reason: enums.DerivativeStorageError, Trace: err.Error(), Cause: err}
	}
	return dbtypes.JSONMap{
		models.MetaExtracted: map[string]any{
			"content_type": attrs.ContentType,
			"size_bytes":   attrs.SizeBytes,
			"md5":          attrs.MD5Hash,
			"updated":      attrs.Updated,
		},
	}, nil
}

// TaggingRunner asks the inference backend for content labels.
type TaggingRunner struct {
	tagger tagger
}

// NewTaggingRunner builds the runner.
func NewTaggingRunner(t tagger) (*TaggingRunner, error) {
	if t == nil {
		return nil, errors.New("tagger required")
	}
	return &TaggingRunner{tagger: t}, nil
}

func (r *TaggingRunner) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	key, err := storageKey(asset)
	if err != nil {
		return nil, err
	}
	tags, err := r.tagger.Tag(ctx, key, asset.MimeType)
	if err != nil {
		return nil, &StageError{Reason: enums.DerivativeToolCrashed, Trace: err.Error(), Cause: err}
	}
	return dbtypes.JSONMap{models.MetaTags: tags}, nil
}

// PromotionRunner verifies the derived artifacts before the asset goes
// user-visible. It has no side effects of its own; the visibility flip is
// the reconciler's job.
type PromotionRunner struct{}

// NewPromotionRunner builds the runner.
func NewPromotionRunner() *PromotionRunner {
	return &PromotionRunner{}
}

func (r *PromotionRunner) Run(ctx context.Context, asset *models.Asset) (dbtypes.JSONMap, error) {
	if !asset.Metadata.NonEmptySlice(models.MetaThumbnails) {
		return nil, &StageError{
			Reason: enums.UploadThumbnailFailed,
			Trace:  "promotion requires derived thumbnails",
		}
	}
	if !asset.Metadata.Has(models.MetaExtracted) {
		return nil, &StageError{
			Reason: enums.DerivativeBadFormat,
			Trace:  "promotion requires extracted metadata",
		}
	}
	return nil, nil
}
