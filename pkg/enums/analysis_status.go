package enums

import "fmt"

// AnalysisStatus is the coarse pipeline cursor for an asset. The ladder is
// strictly ordered; reconciliation may advance the cursor but never move it
// backward. AnalysisFailed sits off the ladder as a terminal marker.
type AnalysisStatus string

const (
	AnalysisUploading            AnalysisStatus = "uploading"
	AnalysisGeneratingThumbnails AnalysisStatus = "generating_thumbnails"
	AnalysisExtractingMetadata   AnalysisStatus = "extracting_metadata"
	AnalysisTagging              AnalysisStatus = "tagging"
	AnalysisPromoting            AnalysisStatus = "promoting"
	AnalysisComplete             AnalysisStatus = "complete"
	AnalysisFailed               AnalysisStatus = "failed"
)

// analysisLadder maps each on-ladder status to its rank. Higher rank means
// further along the pipeline.
var analysisLadder = map[AnalysisStatus]int{
	AnalysisUploading:            0,
	AnalysisGeneratingThumbnails: 1,
	AnalysisExtractingMetadata:   2,
	AnalysisTagging:              3,
	AnalysisPromoting:            4,
	AnalysisComplete:             5,
}

// String returns the literal string for the status.
func (a AnalysisStatus) String() string {
	return string(a)
}

// IsValid reports whether the status is known.
func (a AnalysisStatus) IsValid() bool {
	if a == AnalysisFailed {
		return true
	}
	_, ok := analysisLadder[a]
	return ok
}

// IsTerminal reports whether the cursor can advance no further.
func (a AnalysisStatus) IsTerminal() bool {
	return a == AnalysisComplete || a == AnalysisFailed
}

// Rank returns the ladder position for ordering comparisons. Unknown and
// failed statuses report -1 so they never win an advancement comparison.
func (a AnalysisStatus) Rank() int {
	if rank, ok := analysisLadder[a]; ok {
		return rank
	}
	return -1
}

// Before reports whether a sits strictly earlier on the ladder than other.
// Off-ladder statuses are never considered earlier than anything.
func (a AnalysisStatus) Before(other AnalysisStatus) bool {
	ar, ok := analysisLadder[a]
	if !ok {
		return false
	}
	br, ok := analysisLadder[other]
	if !ok {
		return false
	}
	return ar < br
}

// ParseAnalysisStatus converts raw input into an AnalysisStatus. Unknown
// values are reported as errors; callers treat them as "unknown" and avoid
// asserting progress.
func ParseAnalysisStatus(value string) (AnalysisStatus, error) {
	candidate := AnalysisStatus(value)
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("invalid analysis status %q", value)
}
