package mime

import (
	"io"

	"github.com/saintfish/chardet"
)

const (
	sampleSize    = 8 * 1024
	minConfidence = 50
)

// CharsetDetector guesses text encodings with chardet.
type CharsetDetector struct{}

// NewCharsetDetector returns a detector.
func NewCharsetDetector() *CharsetDetector {
	return &CharsetDetector{}
}

// Detect samples the start of r and returns its most likely charset, or
// fallback when the guess is weak.
func (d *CharsetDetector) Detect(r io.Reader, fallback string) string {
	if r == nil {
		return fallback
	}
	buf := make([]byte, sampleSize)
	n, _ := io.ReadFull(r, buf)
	if n == 0 {
		return fallback
	}
	best, err := chardet.NewTextDetector().DetectBest(buf[:n])
	if err != nil || best == nil || best.Confidence < minConfidence {
		return fallback
	}
	return best.Charset
}
