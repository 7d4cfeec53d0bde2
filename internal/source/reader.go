package source

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// CSV encodings the backends accept. UTF-8 is decoded leniently: a
// leading BOM is dropped and invalid byte sequences become U+FFFD
// instead of failing the read, because exported files from Windows
// tooling routinely carry both.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "latin-1"
)

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch name {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8BOM, nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252, nil
	case EncodingLatin1, "iso-8859-1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// decodeReader wraps r so the CSV parser always sees clean UTF-8.
func decodeReader(r io.Reader, enc string) (io.Reader, error) {
	e, err := lookupEncoding(enc)
	if err != nil {
		return nil, err
	}
	return e.NewDecoder().Reader(r), nil
}
