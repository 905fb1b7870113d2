package reports

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// converter is the shared goldmark instance. GFM keeps the
// characteristics table rendering as a table.
var converter = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts stored markdown to an HTML fragment.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := converter.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
