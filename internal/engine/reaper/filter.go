// Package reaper guarantees that resources labelled for a session are removed
// even if the process dies abruptly. Filter sets are recorded in a death note
// and shipped to a sidecar container that prunes them once this process's
// connection drops.
package reaper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/docker/docker/api/types/filters"
)

// Labels applied to every resource this tool creates.
const (
	LabelMarker        = "org.dockhand"
	LabelSession       = "org.dockhand.sessionId"
	LabelReaperSession = "org.dockhand.reaper.sessionId"
	LabelCreated       = "org.dockhand.created"
)

// Filter is one daemon filter, for example ("label", "org.dockhand=true").
type Filter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FilterSet is an ordered conjunction of filters.
type FilterSet []Filter

// LabelFilter returns a label filter matching key=value.
func LabelFilter(key, value string) Filter {
	return Filter{Key: "label", Value: key + "=" + value}
}

// Encode serializes the set as its wire line without the terminator.
func (fs FilterSet) Encode() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = url.QueryEscape(f.Key) + "=" + url.QueryEscape(f.Value)
	}
	return strings.Join(parts, "&")
}

func (fs FilterSet) String() string {
	return fs.Encode()
}

// ParseFilterSet decodes a wire line, preserving order.
func ParseFilterSet(line string) (FilterSet, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("empty filter line")
	}
	var fs FilterSet
	for _, part := range strings.Split(line, "&") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed filter %q", part)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decoding filter key %q: %w", k, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("decoding filter value %q: %w", v, err)
		}
		fs = append(fs, Filter{Key: key, Value: value})
	}
	return fs, nil
}

// Args converts the set into daemon filter arguments.
func (fs FilterSet) Args() filters.Args {
	args := filters.NewArgs()
	for _, f := range fs {
		args.Add(f.Key, f.Value)
	}
	return args
}

// Labels returns the label filters of the set as a map, or nil if the set
// has filters of other kinds.
func (fs FilterSet) Labels() map[string]string {
	labels := make(map[string]string, len(fs))
	for _, f := range fs {
		if f.Key != "label" {
			return nil
		}
		k, v, _ := strings.Cut(f.Value, "=")
		labels[k] = v
	}
	return labels
}

// Matches reports whether resource labels satisfy every label filter.
func (fs FilterSet) Matches(labels map[string]string) bool {
	want := fs.Labels()
	if want == nil {
		return false
	}
	for k, v := range want {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// SessionLabels returns the labels that tie a resource to session id.
func SessionLabels(id string) map[string]string {
	return map[string]string{
		LabelMarker:  "true",
		LabelSession: id,
	}
}

// SessionFilters matches every resource of session id.
func SessionFilters(id string) FilterSet {
	return FilterSet{
		LabelFilter(LabelMarker, "true"),
		LabelFilter(LabelSession, id),
	}
}

// MarkerFilters matches every resource this tool ever created.
func MarkerFilters() FilterSet {
	return FilterSet{LabelFilter(LabelMarker, "true")}
}
