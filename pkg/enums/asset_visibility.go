package enums

import "fmt"

// AssetVisibility describes whether an asset appears in end-user views.
// It says nothing about processing progress; that lives on the per-stage
// statuses and the analysis cursor.
type AssetVisibility string

const (
	AssetVisible AssetVisibility = "visible"
	AssetHidden  AssetVisibility = "hidden"
	AssetFailed  AssetVisibility = "failed"
)

var validAssetVisibilities = []AssetVisibility{
	AssetVisible,
	AssetHidden,
	AssetFailed,
}

// String returns the literal string for the visibility.
func (v AssetVisibility) String() string {
	return string(v)
}

// IsValid reports whether the visibility is known.
func (v AssetVisibility) IsValid() bool {
	for _, candidate := range validAssetVisibilities {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseAssetVisibility converts raw input into an AssetVisibility.
func ParseAssetVisibility(value string) (AssetVisibility, error) {
	for _, candidate := range validAssetVisibilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid asset visibility %q", value)
}
