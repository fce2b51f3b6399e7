// Package attachment normalizes uploaded content into backend-consumable
// content blocks. Encoding validates the declared mime type and the decoded
// payload size against configured per-category limits; it never talks to the
// backend and does no I/O beyond the bytes it is handed.
package attachment

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-go-golems/minstrel/pkg/conversation"
)

// Limits holds per-category maximum decoded sizes in bytes. A payload of
// exactly the limit is accepted; one byte over is rejected.
type Limits struct {
	MaxImageBytes int64
	MaxAudioBytes int64
	MaxTextBytes  int64
}

// DefaultLimits mirror the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxImageBytes: 10 << 20,
		MaxAudioBytes: 25 << 20,
		MaxTextBytes:  1 << 20,
	}
}

// ValidationError names the constraint an upload violated. Session state is
// never affected by a validation failure.
type ValidationError struct {
	Constraint string // "unsupported_type", "size_exceeded", "undecodable"
	Detail     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attachment validation failed (%s): %s", e.Constraint, e.Detail)
}

func unsupported(detail string) error {
	return &ValidationError{Constraint: "unsupported_type", Detail: detail}
}

func tooLarge(kind string, size, limit int64) error {
	return &ValidationError{
		Constraint: "size_exceeded",
		Detail:     fmt.Sprintf("%s payload is %d bytes, limit is %d", kind, size, limit),
	}
}

func undecodable(detail string) error {
	return &ValidationError{Constraint: "undecodable", Detail: detail}
}

var imageMIMEs = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

var audioMIMEs = map[string]struct{}{
	"audio/wav":  {},
	"audio/wave": {},
	"audio/mpeg": {},
	"audio/mp3":  {},
	"audio/ogg":  {},
	"audio/flac": {},
}

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".csv": {}, ".tsv": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".xml": {},
	".log": {}, ".py": {}, ".go": {}, ".rs": {}, ".js": {}, ".ts": {},
	".html": {}, ".css": {}, ".sh": {},
}

// Encoder validates uploads and turns them into conversation content blocks.
type Encoder struct {
	limits Limits
}

func NewEncoder(limits Limits) *Encoder {
	return &Encoder{limits: limits}
}

// Encode normalizes one upload. The mime type is the client-declared one;
// when it is empty the file extension of name is consulted for text-like
// content. The returned block is self-contained.
func (e *Encoder) Encode(name, mime string, data []byte) (conversation.ContentBlock, error) {
	mime = normalizeMIME(mime)
	switch {
	case isImageMIME(mime):
		if int64(len(data)) > e.limits.MaxImageBytes {
			return conversation.ContentBlock{}, tooLarge("image", int64(len(data)), e.limits.MaxImageBytes)
		}
		return conversation.NewImageBlock(data, mime), nil

	case isAudioMIME(mime):
		if int64(len(data)) > e.limits.MaxAudioBytes {
			return conversation.ContentBlock{}, tooLarge("audio", int64(len(data)), e.limits.MaxAudioBytes)
		}
		return conversation.NewAudioBlock(data, mime), nil

	case isTextLike(mime, name):
		if int64(len(data)) > e.limits.MaxTextBytes {
			return conversation.ContentBlock{}, tooLarge("text", int64(len(data)), e.limits.MaxTextBytes)
		}
		if !utf8.Valid(data) {
			return conversation.ContentBlock{}, undecodable("file content is not valid UTF-8 text")
		}
		return conversation.NewFileBlock(name, string(data)), nil

	default:
		return conversation.ContentBlock{}, unsupported(fmt.Sprintf("mime type %q (file %q)", mime, name))
	}
}

func normalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	// strip parameters such as "; charset=utf-8"
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

func isImageMIME(mime string) bool {
	_, ok := imageMIMEs[mime]
	return ok
}

func isAudioMIME(mime string) bool {
	_, ok := audioMIMEs[mime]
	return ok
}

func isTextLike(mime, name string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/x-yaml", "application/toml":
		return true
	}
	if mime == "" || mime == "application/octet-stream" {
		_, ok := textExtensions[strings.ToLower(filepath.Ext(name))]
		return ok
	}
	return false
}

// DecodePayload decodes an inline upload payload. Both raw base64 and data
// URLs ("data:image/png;base64,...") are accepted; for data URLs the embedded
// mime type is returned and wins over any declared one.
func DecodePayload(s string) ([]byte, string, error) {
	mime := ""
	if strings.HasPrefix(s, "data:") {
		rest := strings.TrimPrefix(s, "data:")
		comma := strings.Index(rest, ",")
		if comma < 0 {
			return nil, "", undecodable("data URL without comma separator")
		}
		meta := rest[:comma]
		s = rest[comma+1:]
		meta = strings.TrimSuffix(meta, ";base64")
		if i := strings.Index(meta, ";"); i >= 0 {
			meta = meta[:i]
		}
		mime = normalizeMIME(meta)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", undecodable("payload is not valid base64: " + err.Error())
	}
	return data, mime, nil
}
