package storage

import (
	"fmt"
	"strings"
)

// Kind names one JSON artifact family produced by the analysis pipeline. The
// string value is the key suffix before ".json".
type Kind string

const (
	KindAnalysis       Kind = "analysis"
	KindLineAnalysis   Kind = "line-analysis"
	KindCopyAnalysis   Kind = "copy-analysis"
	KindAssets         Kind = "assets"
	KindMarketAnalysis Kind = "market-analysis"
	KindSocialMedia    Kind = "social-media"
	KindCoverBrief     Kind = "cover-brief"
	KindCoverImages    Kind = "cover-images"
)

var jsonKinds = map[Kind]bool{
	KindAnalysis:       true,
	KindLineAnalysis:   true,
	KindCopyAnalysis:   true,
	KindAssets:         true,
	KindMarketAnalysis: true,
	KindSocialMedia:    true,
	KindCoverBrief:     true,
	KindCoverImages:    true,
}

// ParseKind validates a client-supplied artifact kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, jsonKinds[k]
}

// ArtifactKey builds the object key for a JSON artifact under a manuscript's
// storage prefix, e.g. "{prefix}-line-analysis.json".
func ArtifactKey(prefix string, kind Kind) string {
	return fmt.Sprintf("%s-%s.json", prefix, kind)
}

// CoverVariationKey names the nth generated cover image, n in [1,5].
func CoverVariationKey(prefix string, n int) string {
	return fmt.Sprintf("%s-cover-variation-%d.png", prefix, n)
}

// ExportKey names a packaged manuscript. Format is "epub" or "pdf".
func ExportKey(prefix, format string) string {
	return fmt.Sprintf("%s-formatted.%s", prefix, format)
}

// StatusKey holds the live pipeline status record for a report.
func StatusKey(reportID string) string {
	return "status:" + reportID
}

// ReportIDKey maps a minted report id back to its manuscript storage prefix.
func ReportIDKey(reportID string) string {
	return "report-id:" + reportID
}

// CancelKey is a presence flag; existence means cancellation was requested.
func CancelKey(reportID string) string {
	return "cancel:" + reportID
}

// ContentTypeForKey guesses a MIME type from the key's extension. Unknown
// extensions fall back to octet-stream.
func ContentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".epub"):
		return "application/epub+zip"
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(key, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(key, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
