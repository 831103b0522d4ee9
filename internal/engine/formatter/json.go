package formatter

import (
	"encoding/json"
)

// JSONFormatter outputs reports as pretty-printed JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSONFormatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatDiscovery(r DiscoveryReport) string { return marshal(r) }
func (f *JSONFormatter) FormatUp(r UpReport) string               { return marshal(r) }
func (f *JSONFormatter) FormatCleanup(r CleanupReport) string     { return marshal(r) }

func marshal(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// Fallback: should never happen since reports are fully serializable.
		return `{"error": "failed to marshal result"}`
	}
	return string(data)
}
