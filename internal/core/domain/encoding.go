package domain

import (
	"strconv"
	"strings"
)

// ScalarEncodingVersion identifies the metadata-scalar encoding table.
// Catalog vectors and query vectors must be built with the same version.
const ScalarEncodingVersion = 1

// languageIndex is the v1 categorical encoding for the language scalar.
// Index 0 is reserved for unknown; the table is append-only.
var languageIndex = map[string]float32{
	"hindi":      1,
	"english":    2,
	"punjabi":    3,
	"tamil":      4,
	"telugu":     5,
	"malayalam":  6,
	"kannada":    7,
	"bengali":    8,
	"marathi":    9,
	"gujarati":   10,
	"urdu":       11,
	"bhojpuri":   12,
	"haryanvi":   13,
	"rajasthani": 14,
	"assamese":   15,
	"odia":       16,
}

// EncodeLanguage maps a language name to its categorical index. Unknown or
// empty languages encode as 0.
func EncodeLanguage(lang string) float32 {
	return languageIndex[strings.ToLower(strings.TrimSpace(lang))]
}

// EncodeYear parses a release year into a scalar; unparsable years encode
// as 0.
func EncodeYear(year string) float32 {
	y, err := strconv.ParseFloat(strings.TrimSpace(year), 32)
	if err != nil {
		return 0
	}
	return float32(y)
}

// EncodeScalars builds the metadata-scalar block for layout v1:
// duration seconds, year, language index.
func EncodeScalars(duration float64, year, language string) []float32 {
	return []float32{float32(duration), EncodeYear(year), EncodeLanguage(language)}
}
