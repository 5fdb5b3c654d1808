package extractor

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText turns raw bytes into a UTF-8 string, handling BOMs, UTF-16, and
// the common legacy single-byte encodings troubleshooting artifacts arrive in.
func decodeText(data []byte) string {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return string(data[3:])
	}

	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, _, err := transform.Bytes(decoder, data); err == nil {
			return string(decoded)
		}
	}
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		decoder := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		if decoded, _, err := transform.Bytes(decoder, data); err == nil {
			return string(decoded)
		}
	}

	if utf8.Valid(data) {
		return string(data)
	}

	if decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data); err == nil {
		return string(decoded)
	}
	if decoded, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data); err == nil {
		return string(decoded)
	}
	return string(data)
}

// normalizeText collapses line endings and strips NULs and blank lines.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
