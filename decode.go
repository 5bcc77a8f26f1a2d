package falkordb

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// responseDecoder applies the configured response decoding mode to replies
// returned by go-redis. go-redis hands back bulk strings as Go strings
// holding the raw bytes; this is where they become either []byte or text.
type responseDecoder struct {
	raw      bool
	utf8     bool
	enc      encoding.Encoding
	errorsAs string
}

func newResponseDecoder(cfg *Config) (*responseDecoder, error) {
	d := &responseDecoder{raw: cfg.RawResponses, errorsAs: cfg.EncodingErrors}
	if d.raw {
		return d, nil
	}

	switch cfg.EncodingErrors {
	case EncodingErrorsStrict, EncodingErrorsReplace, EncodingErrorsIgnore:
	default:
		return nil, fmt.Errorf("unknown encoding error mode %q", cfg.EncodingErrors)
	}

	enc, err := lookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		d.utf8 = true
	} else {
		d.enc = enc
	}
	return d, nil
}

// lookupEncoding resolves WHATWG labels first ("utf-8", "latin1",
// "shift_jis") and IANA names second.
func lookupEncoding(name string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// decode walks a reply and converts every string in it.
func (d *responseDecoder) decode(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return d.decodeString(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			decoded, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			key, err := d.decode(k)
			if err != nil {
				return nil, err
			}
			decoded, err := d.decode(item)
			if err != nil {
				return nil, err
			}
			// []byte keys are not hashable; raw keys stay strings.
			if b, ok := key.([]byte); ok {
				key = string(b)
			}
			out[key] = decoded
		}
		return out, nil
	default:
		return v, nil
	}
}

func (d *responseDecoder) decodeString(s string) (any, error) {
	if d.raw {
		return []byte(s), nil
	}

	if d.utf8 {
		if utf8.ValidString(s) {
			return s, nil
		}
		if d.errorsAs == EncodingErrorsStrict {
			return nil, fmt.Errorf("%w: invalid utf-8 in reply", ErrDecode)
		}
		return replaceInvalidUTF8(s, d.errorsAs == EncodingErrorsReplace), nil
	}

	// x/text decoders substitute U+FFFD for undecodable input.
	out, err := d.enc.NewDecoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if !strings.ContainsRune(out, utf8.RuneError) || d.encodesBack(out, s) {
		return out, nil
	}
	switch d.errorsAs {
	case EncodingErrorsReplace:
		return out, nil
	case EncodingErrorsIgnore:
		return strings.ReplaceAll(out, string(utf8.RuneError), ""), nil
	default:
		return nil, fmt.Errorf("%w: undecodable bytes in reply", ErrDecode)
	}
}

// encodesBack reports whether decoded re-encodes to exactly src. A U+FFFD
// that the source really contained survives the round trip; one the decoder
// substituted for bad input does not.
func (d *responseDecoder) encodesBack(decoded, src string) bool {
	encoded, err := d.enc.NewEncoder().String(decoded)
	return err == nil && encoded == src
}

// replaceInvalidUTF8 writes one U+FFFD per invalid byte, or drops the byte.
func replaceInvalidUTF8(s string, replace bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			if replace {
				b.WriteRune(utf8.RuneError)
			}
		} else {
			b.WriteString(s[:size])
		}
		s = s[size:]
	}
	return b.String()
}
