// Package langdetect implements binary rejection and language detection.
// Language classification is delegated to go-enry, the extension/content
// heuristic library GitHub Linguist is built on; this package adds the
// confidence model and the binary-signature/NUL-density check, since
// go-enry's own API exposes neither a confidence score nor that heuristic.
package langdetect

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// Method records how a language was determined.
type Method string

const (
	MethodExtension Method = "extension"
	MethodContent   Method = "content"
	MethodHeuristic Method = "heuristic"
)

// Detection is the result of DetectLanguage.
type Detection struct {
	Language   string
	Method     Method
	Confidence float64
}

// blacklistedExtensions are rejected outright regardless of content.
var blacklistedExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".bin": true, ".class": true, ".jar": true, ".war": true,
	".zip": true, ".tar": true, ".gz": true, ".7z": true, ".rar": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".pdf": true, ".woff": true, ".woff2": true, ".ttf": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".sqlite": true,
}

// magicSignatures are well-known binary file headers, matched against the
// first bytes of a file regardless of extension.
var magicSignatures = [][]byte{
	{0x7F, 'E', 'L', 'F'},             // ELF
	{0x4D, 0x5A},                      // PE/COFF (MZ)
	{0xCA, 0xFE, 0xBA, 0xBE},          // Java class
	{'P', 'K', 0x03, 0x04},            // ZIP (and JAR/DOCX/...)
	{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, // PNG
	{0xFF, 0xD8, 0xFF},                // JPEG
	{0x25, 'P', 'D', 'F'},             // PDF
	{0x1F, 0x8B},                      // GZIP
	{'G', 'I', 'F', '8'},              // GIF
}

const maxNULBytesAllowed = 10
const nulScanWindow = 8 * 1024

// IsBinary reports whether a file should be rejected as binary: blacklisted
// extension, OR a known magic signature in the first 16 bytes, OR more than
// 10 NUL bytes in the first 8 KiB.
func IsBinary(name string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if blacklistedExtensions[ext] {
		return true
	}

	probe := header
	if len(probe) > 16 {
		probe = probe[:16]
	}
	for _, sig := range magicSignatures {
		if bytes.HasPrefix(probe, sig) {
			return true
		}
	}

	window := header
	if len(window) > nulScanWindow {
		window = window[:nulScanWindow]
	}
	if bytes.Count(window, []byte{0x00}) > maxNULBytesAllowed {
		return true
	}
	return false
}

// languageValidators holds a regex per language used to bump confidence
// from 0.85 to 0.95 (match) or drop it to 0.75 (extension matched but the
// content doesn't look like that language at all).
var languageValidators = map[string]*regexp.Regexp{
	"Go":         regexp.MustCompile(`(?m)^\s*package\s+\w+`),
	"Python":     regexp.MustCompile(`(?m)^\s*(def |class |import |from )`),
	"Java":       regexp.MustCompile(`(?m)\b(class|interface|package)\s+\w+`),
	"JavaScript": regexp.MustCompile(`(?m)\b(function|const|let|var|=>)\b`),
	"TypeScript": regexp.MustCompile(`(?m)\b(interface|type|function|const|let)\b`),
	"Rust":       regexp.MustCompile(`(?m)\bfn\s+\w+\s*\(`),
	"C":          regexp.MustCompile(`(?m)#include\s*[<"]`),
	"C++":        regexp.MustCompile(`(?m)#include\s*[<"]|\bnamespace\s+\w+`),
}

// DetectLanguage classifies content, returning a confidence on a staircase:
// extension match alone -> 0.85; extension match additionally validated by
// a content regex -> 0.95, or 0.75 if the regex fails; no extension match
// but a content regex still hits -> 0.65; no regex hit but go-enry's content
// heuristic names a language -> 0.65; otherwise unknown/0.0. IsBinary
// should be checked by the caller first.
func DetectLanguage(name string, content []byte) Detection {
	extLang, extSafe := enry.GetLanguageByExtension(name)

	if extSafe && extLang != "" {
		if validator, ok := languageValidators[extLang]; ok {
			if validator.Match(content) {
				return Detection{Language: extLang, Method: MethodExtension, Confidence: 0.95}
			}
			return Detection{Language: extLang, Method: MethodExtension, Confidence: 0.75}
		}
		return Detection{Language: extLang, Method: MethodExtension, Confidence: 0.85}
	}

	for lang, validator := range languageValidators {
		if validator.Match(content) {
			return Detection{Language: lang, Method: MethodContent, Confidence: 0.65}
		}
	}

	if langs := enry.GetLanguagesByContent(name, content, nil); len(langs) > 0 {
		return Detection{Language: langs[0], Method: MethodHeuristic, Confidence: 0.65}
	}

	return Detection{Language: "unknown", Method: MethodHeuristic, Confidence: 0.0}
}
