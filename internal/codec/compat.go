package codec

import (
	"os"

	"github.com/trunov/imageopt/internal/entities"
)

// Check is one row of the compatibility report.
type Check struct {
	Label    string `json:"label"`
	OK       bool   `json:"ok"`
	Required string `json:"required"`
	Current  string `json:"current"`
	Message  string `json:"message"`
}

// CompatReport lists everything the pipeline needs from the runtime:
// encoder availability per format and a writable media directory for
// the converted trees.
func (e *Encoder) CompatReport(mediaDir string) []Check {
	webpOK := e.Supports(entities.FormatWebP)
	avifOK := e.Supports(entities.FormatAVIF)
	dirOK := dirWritable(mediaDir)

	return []Check{
		{
			Label:    "WebP encoder",
			OK:       webpOK,
			Required: "available",
			Current:  availability(webpOK),
			Message:  "WebP encoding is required to produce .webp variants.",
		},
		{
			Label:    "AVIF encoder",
			OK:       avifOK,
			Required: "available",
			Current:  availability(avifOK),
			Message:  "AVIF encoding is required to produce .avif variants.",
		},
		{
			Label:    "Media directory writable",
			OK:       dirOK,
			Required: "writable",
			Current:  writability(dirOK),
			Message:  "The converted-file trees are created inside the media directory.",
		},
	}
}

func dirWritable(dir string) bool {
	probe, err := os.CreateTemp(dir, ".imageopt-probe-*")
	if err != nil {
		return false
	}
	probe.Close()
	os.Remove(probe.Name())
	return true
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func writability(ok bool) string {
	if ok {
		return "writable"
	}
	return "not writable"
}
