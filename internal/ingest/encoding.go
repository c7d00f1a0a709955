package ingest

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Encoding names a detected source character set.
type Encoding string

const (
	EncodingUTF8      Encoding = "utf-8"
	EncodingUTF8BOM   Encoding = "utf-8-bom"
	EncodingLatin1    Encoding = "latin1"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding probes sample (IngestFile passes the first 8 KiB of the
// file). UTF-8 with a
// byte-order mark and plain UTF-8 are both recognized; anything containing
// a byte sequence that is not valid UTF-8 is assumed Latin-1, the common
// case for Quebec clinic exports.
func DetectEncoding(sample []byte) Encoding {
	if bytes.HasPrefix(sample, utf8BOM) {
		return EncodingUTF8BOM
	}
	if utf8.Valid(sample) {
		return EncodingUTF8
	}
	return EncodingLatin1
}

// TranscodeToUTF8 converts raw bytes in enc to UTF-8, stripping any BOM.
func TranscodeToUTF8(raw []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingUTF8BOM:
		return bytes.TrimPrefix(raw, utf8BOM), nil
	case EncodingUTF8:
		return raw, nil
	case EncodingLatin1:
		decoder := charmap.ISO8859_1.NewDecoder()
		out, _, err := transform.Bytes(decoder, raw)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return raw, nil
	}
}

// Delimiter is a detected CSV field separator.
type Delimiter rune

const (
	DelimiterSemicolon Delimiter = ';'
	DelimiterComma     Delimiter = ','
	DelimiterTab       Delimiter = '\t'
)

// DetectDelimiter scores ';', ',', and '\t' against the header line and up
// to three data lines, picking the delimiter with the most consistent
// field count across lines. Ties are broken toward ';' per Quebec
// convention.
func DetectDelimiter(lines []string) Delimiter {
	candidates := []Delimiter{DelimiterSemicolon, DelimiterComma, DelimiterTab}
	bestScore := -1
	best := DelimiterSemicolon

	for _, d := range candidates {
		score := scoreDelimiter(lines, rune(d))
		if score > bestScore {
			bestScore = score
			best = d
		}
	}
	return best
}

func scoreDelimiter(lines []string, delim rune) int {
	if len(lines) == 0 {
		return 0
	}
	counts := make([]int, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		counts = append(counts, countRune(line, delim))
	}
	if len(counts) == 0 || counts[0] == 0 {
		return 0
	}
	// Consistency score: how many lines share the header's field count,
	// weighted by the field count itself (more columns is stronger signal
	// than two accidental matches).
	target := counts[0]
	consistent := 0
	for _, c := range counts {
		if c == target {
			consistent++
		}
	}
	return consistent*100 + target
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}
	return n
}
