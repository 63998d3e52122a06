package media

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURL renders data as data:<mime>;base64,<payload>.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func IsDataURL(s string) bool { return strings.HasPrefix(s, "data:") }

// ParseDataURL decodes a base64 data URL.
func ParseDataURL(s string) (string, []byte, error) {
	if !IsDataURL(s) {
		return "", nil, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("data url has no payload")
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("unsupported data url encoding %q", enc)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return mime, raw, nil
}

// DecodeAudio returns the WAV bytes of an audioData value. The server sends
// bare base64; data URLs are accepted too.
func DecodeAudio(s string) ([]byte, error) {
	if IsDataURL(s) {
		_, raw, err := ParseDataURL(s)
		return raw, err
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return raw, nil
}
