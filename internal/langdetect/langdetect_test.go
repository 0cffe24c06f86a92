package langdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBinaryRejectsBlacklistedExtension(t *testing.T) {
	assert.True(t, IsBinary("photo.png", []byte("not actually a png")))
}

func TestIsBinaryRejectsMagicSignature(t *testing.T) {
	header := []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34}
	assert.True(t, IsBinary("payload.java", header))
}

func TestIsBinaryRejectsHighNULDensity(t *testing.T) {
	header := make([]byte, 64)
	for i := 0; i < 20; i++ {
		header[i*3] = 0x00
	}
	assert.True(t, IsBinary("data.bin.unknown", header))
}

func TestIsBinaryAcceptsPlainText(t *testing.T) {
	assert.False(t, IsBinary("main.go", []byte("package main\n\nfunc main() {}\n")))
}

func TestDetectLanguageExtensionPlusContentMatch(t *testing.T) {
	d := DetectLanguage("main.go", []byte("package main\n\nfunc main() {}\n"))
	assert.Equal(t, "Go", d.Language)
	assert.Equal(t, MethodExtension, d.Method)
	assert.InDelta(t, 0.95, d.Confidence, 0.0001)
}

func TestDetectLanguageExtensionMismatchContent(t *testing.T) {
	d := DetectLanguage("script.go", []byte("this is just prose, not code at all"))
	assert.Equal(t, "Go", d.Language)
	assert.InDelta(t, 0.75, d.Confidence, 0.0001)
}

func TestDetectLanguageUnknown(t *testing.T) {
	d := DetectLanguage("README", []byte("Just some plain prose text with no code markers."))
	assert.Equal(t, "unknown", d.Language)
	assert.InDelta(t, 0.0, d.Confidence, 0.0001)
}
