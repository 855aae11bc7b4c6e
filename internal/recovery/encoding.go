package recovery

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultEncoding maps every byte to a code point, so decoding never fails.
const DefaultEncoding = "latin1"

// Codec converts between file bytes and text for one character encoding.
type Codec struct {
	name string
	enc  encoding.Encoding // nil means strict UTF-8
}

var codecs = map[string]encoding.Encoding{
	"latin1":      charmap.ISO8859_1,
	"iso88591":    charmap.ISO8859_1,
	"l1":          charmap.ISO8859_1,
	"iso885915":   charmap.ISO8859_15,
	"latin9":      charmap.ISO8859_15,
	"windows1252": charmap.Windows1252,
	"cp1252":      charmap.Windows1252,
	"utf8":        nil,
}

// LookupCodec resolves an encoding name such as "latin1", "ISO-8859-1",
// "cp1252" or "utf-8". Names are case and punctuation insensitive.
func LookupCodec(name string) (Codec, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	enc, ok := codecs[key]
	if !ok {
		return Codec{}, fmt.Errorf("unsupported encoding %q (supported: %s)", name, strings.Join(SupportedEncodings(), ", "))
	}
	return Codec{name: canonicalName(key), enc: enc}, nil
}

// MustCodec is LookupCodec for names known to be valid.
func MustCodec(name string) Codec {
	c, err := LookupCodec(name)
	if err != nil {
		panic(err)
	}
	return c
}

// SupportedEncodings lists the accepted encoding names.
func SupportedEncodings() []string {
	names := make([]string, 0, len(codecs))
	for k := range codecs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func canonicalName(key string) string {
	switch key {
	case "latin1", "iso88591", "l1":
		return "latin1"
	case "iso885915", "latin9":
		return "iso-8859-15"
	case "windows1252", "cp1252":
		return "windows-1252"
	default:
		return "utf-8"
	}
}

// Name returns the canonical encoding name.
func (c Codec) Name() string {
	if c.name == "" {
		return "utf-8"
	}
	return c.name
}

// Encode converts text to raw bytes.
func (c Codec) Encode(b []byte) ([]byte, error) {
	return c.encoder()(b)
}

func (c Codec) decoder() func([]byte) (string, error) {
	if c.enc == nil {
		return func(b []byte) (string, error) {
			if off := invalidUTF8Offset(b); off >= 0 {
				return "", fmt.Errorf("invalid UTF-8 byte 0x%02x at offset %d", b[off], off)
			}
			return string(b), nil
		}
	}
	d := c.enc.NewDecoder()
	return func(b []byte) (string, error) {
		out, err := d.Bytes(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func (c Codec) encoder() func([]byte) ([]byte, error) {
	if c.enc == nil {
		return func(b []byte) ([]byte, error) { return b, nil }
	}
	e := c.enc.NewEncoder()
	return func(b []byte) ([]byte, error) {
		return e.Bytes(b)
	}
}

// invalidUTF8Offset returns the offset of the first invalid byte, or -1.
func invalidUTF8Offset(b []byte) int {
	for i := 0; i < len(b); {
		if b[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
