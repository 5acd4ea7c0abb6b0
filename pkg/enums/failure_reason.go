package enums

import "fmt"

// FailureReason is a domain-specific failure cause persisted on
// failure-tracking entities (upload sessions, downloads, derivatives).
type FailureReason string

// Upload session failure reasons.
const (
	UploadTransferFailed  FailureReason = "transfer_failed"
	UploadFinalizeFailed  FailureReason = "finalize_failed"
	UploadThumbnailFailed FailureReason = "thumbnail_failed"
	UploadMalformedFile   FailureReason = "malformed_file"
	UploadQuotaExceeded   FailureReason = "quota_exceeded"
)

// Download failure reasons.
const (
	DownloadObjectMissing   FailureReason = "object_missing"
	DownloadPermissionError FailureReason = "permission_error"
	DownloadExpiredLink     FailureReason = "expired_link"
)

// Derivative (thumbnail/transcode) failure reasons.
const (
	DerivativeBadFormat    FailureReason = "bad_format"
	DerivativeDiskFull     FailureReason = "disk_full"
	DerivativeToolCrashed  FailureReason = "tool_crashed"
	DerivativeTimeout      FailureReason = "timeout"
	DerivativeUnsupported  FailureReason = "unsupported_media"
	DerivativeStorageError FailureReason = "storage_error"
)

// retryableByReason is the per-reason retry policy. Reasons absent from the
// table are not retryable without operator action.
var retryableByReason = map[FailureReason]bool{
	UploadTransferFailed:    true,
	UploadFinalizeFailed:    true,
	UploadThumbnailFailed:   true,
	UploadMalformedFile:     false,
	UploadQuotaExceeded:     false,
	DownloadObjectMissing:   false,
	DownloadPermissionError: false,
	DownloadExpiredLink:     true,
	DerivativeBadFormat:     false,
	DerivativeDiskFull:      true,
	DerivativeToolCrashed:   true,
	DerivativeTimeout:       true,
	DerivativeUnsupported:   false,
	DerivativeStorageError:  true,
}

// criticalUploadReasons short-circuit the triage dispatch threshold for
// upload failures.
var criticalUploadReasons = map[FailureReason]struct{}{
	UploadTransferFailed:  {},
	UploadFinalizeFailed:  {},
	UploadThumbnailFailed: {},
}

// downloadReasons is the closed set of delivery failure causes.
var downloadReasons = map[FailureReason]struct{}{
	DownloadObjectMissing:   {},
	DownloadPermissionError: {},
	DownloadExpiredLink:     {},
}

// criticalDerivativeReasons short-circuit the triage dispatch threshold for
// derivative failures.
var criticalDerivativeReasons = map[FailureReason]struct{}{
	DerivativeDiskFull:     {},
	DerivativeStorageError: {},
}

// String returns the literal string for the reason.
func (r FailureReason) String() string {
	return string(r)
}

// Retryable reports whether the pipeline may retry this reason without
// operator intervention.
func (r FailureReason) Retryable() bool {
	return retryableByReason[r]
}

// CriticalForUpload reports whether an upload failure with this reason
// triggers triage regardless of failure count.
func (r FailureReason) CriticalForUpload() bool {
	_, ok := criticalUploadReasons[r]
	return ok
}

// ForDownload reports whether the reason belongs to the delivery domain.
func (r FailureReason) ForDownload() bool {
	_, ok := downloadReasons[r]
	return ok
}

// CriticalForDerivative reports whether a derivative failure with this
// reason triggers triage regardless of failure count.
func (r FailureReason) CriticalForDerivative() bool {
	_, ok := criticalDerivativeReasons[r]
	return ok
}

// ParseFailureReason validates raw input against the known reasons.
func ParseFailureReason(value string) (FailureReason, error) {
	candidate := FailureReason(value)
	if _, ok := retryableByReason[candidate]; ok {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid failure reason %q", value)
}
