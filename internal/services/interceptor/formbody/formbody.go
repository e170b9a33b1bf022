// Package formbody decodes application/x-www-form-urlencoded request bodies
// into flat string maps.
package formbody

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"
)

// DefaultMaxBytes caps how much of a body Decode buffers.
const DefaultMaxBytes = 1 << 20

const chunkSize = 4 << 10

var (
	// ErrMalformed indicates a pair without "=", a bad percent-escape, or
	// escapes that decode to invalid UTF-8.
	ErrMalformed = errors.New("malformed form body")
	// ErrTooLarge indicates a body larger than the read limit.
	ErrTooLarge = errors.New("form body too large")
)

// Decode reads r to EOF and parses it with DefaultMaxBytes as the limit.
func Decode(r io.Reader) (map[string]string, error) {
	return DecodeLimit(r, DefaultMaxBytes)
}

// DecodeLimit reads r to EOF, failing once more than limit bytes arrive, and
// parses the accumulated text. A nil reader or empty body yields an empty map.
func DecodeLimit(r io.Reader, limit int64) (map[string]string, error) {
	if r == nil {
		return map[string]string{}, nil
	}
	data, err := readAll(r, limit)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// readAll accumulates chunks in arrival order until EOF.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if limit > 0 && int64(buf.Len()+n) > limit {
				return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read form body: %w", err)
		}
	}
}

// Parse decodes "key=value" pairs joined by "&". "+" decodes to a space and
// percent-escapes are reversed in both keys and values. Empty pairs are
// skipped; a repeated key keeps its last value. Decoded text must be valid
// UTF-8.
func Parse(data string) (map[string]string, error) {
	values := map[string]string{}
	for _, pair := range strings.Split(data, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: pair %q has no value", ErrMalformed, pair)
		}
		key, err := unescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrMalformed, rawKey, err)
		}
		value, err := unescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q: %w", ErrMalformed, rawValue, err)
		}
		values[key] = value
	}
	return values, nil
}

var errInvalidUTF8 = errors.New("invalid UTF-8")

func unescape(raw string) (string, error) {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", errInvalidUTF8
	}
	return decoded, nil
}
