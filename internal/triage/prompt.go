package triage

import (
	"fmt"
	"strings"
)

// defaultTraceMaxChars bounds how much raw trace text leaves the system.
const defaultTraceMaxChars = 2000

const promptHeader = `You triage failures in an asset processing pipeline.
Given the failure context below, judge whether it looks systemic.

Respond with ONLY a JSON object (no markdown, no preamble):
{"severity":"system"|"warning","summary":"one sentence","recommendation":"one sentence"}

"system" means the failure pattern points at infrastructure or a bug and a
human should look; "warning" means it is likely content- or tenant-local.`

// BuildPrompt renders the classification prompt. Only identifiers and the
// truncated trace are embedded; credentials and signed URLs never are.
func BuildPrompt(input Input, traceMaxChars int) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nFailure context:\n")
	fmt.Fprintf(&b, "asset_id: %s\n", input.AssetID)
	fmt.Fprintf(&b, "tenant_id: %s\n", input.TenantID)
	fmt.Fprintf(&b, "stage: %s\n", input.Stage)
	fmt.Fprintf(&b, "failure_reason: %s\n", input.Reason)
	fmt.Fprintf(&b, "failure_count: %d\n", input.FailureCount)
	b.WriteString("trace:\n")
	b.WriteString(TruncateTrace(input.Trace, traceMaxChars))
	return b.String()
}

// TruncateTrace bounds the trace to maxChars, cutting on a rune boundary.
func TruncateTrace(trace string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultTraceMaxChars
	}
	runes := []rune(trace)
	if len(runes) <= maxChars {
		return trace
	}
	return string(runes[:maxChars])
}
