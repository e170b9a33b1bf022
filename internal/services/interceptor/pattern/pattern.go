// Package pattern matches request paths against route templates.
//
// A template is split on "/" into segments. A segment starting with ":"
// captures the path segment at the same position under the name that
// follows; any other segment must match exactly. Templates and paths only
// match when they have the same number of segments, so there are no
// wildcards, and empty segments (a leading "/", a trailing "/") match
// literally.
package pattern

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	separator     = "/"
	captureMarker = ":"
)

// ErrDecode indicates a captured segment with malformed percent-encoding or
// one that decodes to invalid UTF-8.
var ErrDecode = errors.New("decode path segment")

// Params maps capture names to decoded path segments.
type Params map[string]string

type segment struct {
	value   string
	capture bool
}

// Pattern is a compiled route template.
type Pattern struct {
	template string
	segments []segment
}

// Compile splits template into literal and capture segments.
func Compile(template string) Pattern {
	parts := strings.Split(template, separator)
	segments := make([]segment, len(parts))
	for i, part := range parts {
		if name, ok := strings.CutPrefix(part, captureMarker); ok {
			segments[i] = segment{value: name, capture: true}
			continue
		}
		segments[i] = segment{value: part}
	}
	return Pattern{template: template, segments: segments}
}

// String returns the source template.
func (p Pattern) String() string {
	return p.template
}

// Names returns the capture names in declaration order.
func (p Pattern) Names() []string {
	var names []string
	for _, seg := range p.segments {
		if seg.capture {
			names = append(names, seg.value)
		}
	}
	return names
}

// Match reports whether path matches the pattern and returns the captured
// parameters. A non-nil error means a capture could not be decoded.
func (p Pattern) Match(path string) (Params, bool, error) {
	parts := strings.Split(path, separator)
	if len(parts) != len(p.segments) {
		return nil, false, nil
	}

	params := Params{}
	for i, seg := range p.segments {
		if !seg.capture {
			if seg.value != parts[i] {
				return nil, false, nil
			}
			continue
		}
		decoded, err := url.PathUnescape(parts[i])
		if err != nil {
			return nil, false, fmt.Errorf("%w %q: %w", ErrDecode, parts[i], err)
		}
		if !utf8.ValidString(decoded) {
			return nil, false, fmt.Errorf("%w %q: invalid UTF-8", ErrDecode, parts[i])
		}
		params[seg.value] = decoded
	}
	return params, true, nil
}
