package render

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hazyhaar/docscape/geom"
)

// textPage is one page of the positioned word layer, in PDF points.
type textPage struct {
	width, height float64
	words         []Word
}

// parseTextLayer streams the pdftotext -bbox XHTML output into pages of
// positioned words. The format is a flat sequence of <page width height>
// elements each holding <word xMin yMin xMax yMax>text</word> children in
// reading order.
func parseTextLayer(data []byte) ([]textPage, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	// Poppler emits an XHTML doctype whose entities we never need.
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	var pages []textPage
	var cur *textPage
	var inWord bool
	var wordBox geom.Box
	var wordText strings.Builder

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("render: parse text layer: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "page":
				pages = append(pages, textPage{
					width:  attrFloat(t, "width"),
					height: attrFloat(t, "height"),
				})
				cur = &pages[len(pages)-1]
			case "word":
				x0 := attrFloat(t, "xMin")
				y0 := attrFloat(t, "yMin")
				x1 := attrFloat(t, "xMax")
				y1 := attrFloat(t, "yMax")
				wordBox = geom.Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
				wordText.Reset()
				inWord = true
			}
		case xml.CharData:
			if inWord {
				wordText.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "word" && inWord {
				inWord = false
				text := strings.TrimSpace(wordText.String())
				if cur != nil && text != "" && !wordBox.Empty() {
					cur.words = append(cur.words, Word{Text: text, Box: wordBox})
				}
			}
		}
	}
	return pages, nil
}

func attrFloat(t xml.StartElement, name string) float64 {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			v, err := strconv.ParseFloat(a.Value, 64)
			if err != nil {
				return 0
			}
			return v
		}
	}
	return 0
}
