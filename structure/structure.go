// Package structure walks the structural markup tree of a zip-XML
// word-processor document and produces an ordered arena of semantic nodes.
// It is a pure structural/text pass: no page geometry, no rendering, so its
// failures are distinguishable from rendering failures.
//
// The tree is stored as a flat arena with parent-index back-references and
// traversed iteratively, so adversarially deep nesting cannot exhaust the
// stack.
package structure

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hazyhaar/docscape/entity"
)

// ErrNotZipXML reports that the payload is not a readable zip-XML container.
var ErrNotZipXML = errors.New("structure: not a zip-XML document")

// Node is one element of the structural arena.
type Node struct {
	// Parent is the arena index of the containing node, -1 for roots.
	Parent int
	// Depth is the container nesting depth (root paragraphs are 0).
	Depth int
	// Type is the semantic entity type assigned to the node.
	Type entity.Type
	// Style is the raw paragraph style name the type was derived from.
	Style string
	// Text is the concatenated text of leaf nodes; empty for containers.
	Text string
	// Leaf marks nodes that carry text and participate in alignment.
	Leaf bool
}

// Tree is the extracted structural arena in document order.
type Tree struct {
	Nodes []Node
}

// Leaves returns the arena indices of leaf nodes in document order.
func (t *Tree) Leaves() []int {
	out := make([]int, 0, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Leaf {
			out = append(out, i)
		}
	}
	return out
}

// Text serializes the document text: paragraphs and table rows separated by
// newlines, table cells by tabs. The arena is already in document order, so
// a single linear scan suffices.
func (t *Tree) Text() string {
	var lines []string
	var row []string
	flushRow := func() {
		if row != nil {
			lines = append(lines, strings.Join(row, "\t"))
			row = nil
		}
	}

	for _, n := range t.Nodes {
		switch {
		case n.Type == entity.TableRow || n.Type == entity.TableHeaderRow:
			flushRow()
			row = []string{}
		case n.Leaf && (n.Type == entity.TableCell || n.Type == entity.TableHeaderCell):
			row = append(row, n.Text)
		case n.Leaf:
			flushRow()
			if n.Text != "" {
				lines = append(lines, n.Text)
			}
		}
	}
	flushRow()
	return strings.Join(lines, "\n")
}

// Extract parses word/document.xml out of a docx payload into a Tree.
func Extract(docx []byte, styles *entity.StyleMap) (*Tree, error) {
	if styles == nil {
		styles = entity.DefaultStyleMap()
	}

	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZipXML, err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("%w: word/document.xml not found", ErrNotZipXML)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open document.xml: %v", ErrNotZipXML, err)
	}
	defer rc.Close()

	return parseDocumentXML(rc, styles)
}

// parser state for one streaming pass over document.xml.
type parser struct {
	styles *entity.StyleMap
	tree   *Tree

	// containers is the stack of open table/row/cell arena indices.
	containers []int

	// openList is the arena index of the list container grouping the current
	// run of list paragraphs, -1 when no list is open.
	openList int

	inPara    bool
	inText    bool
	paraText  strings.Builder
	paraStyle string
	paraList  bool

	// cellText accumulates paragraph text per open cell. A stack, parallel
	// to the cell entries in containers, so a nested table inside a cell
	// cannot clobber the outer cell's text.
	cellText []string
}

func parseDocumentXML(r io.Reader, styles *entity.StyleMap) (*Tree, error) {
	p := &parser{
		styles:   styles,
		tree:     &Tree{},
		openList: -1,
	}

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("structure: parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.CharData:
			p.chars(t)
		case xml.EndElement:
			p.end(t)
		}
	}
	return p.tree, nil
}

func (p *parser) top() int {
	if len(p.containers) == 0 {
		return -1
	}
	return p.containers[len(p.containers)-1]
}

// inCell reports whether the innermost open container is a table cell.
func (p *parser) inCell() bool {
	t := p.top()
	if t < 0 {
		return false
	}
	typ := p.tree.Nodes[t].Type
	return typ == entity.TableCell || typ == entity.TableHeaderCell
}

func (p *parser) push(typ entity.Type) int {
	parent := p.top()
	n := Node{
		Parent: parent,
		Depth:  len(p.containers),
		Type:   typ,
	}
	p.tree.Nodes = append(p.tree.Nodes, n)
	idx := len(p.tree.Nodes) - 1
	p.containers = append(p.containers, idx)
	return idx
}

func (p *parser) pop() {
	if len(p.containers) > 0 {
		p.containers = p.containers[:len(p.containers)-1]
	}
}

func (p *parser) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		p.closeList()
		p.push(entity.Table)
	case "tr":
		p.push(entity.TableRow)
	case "tblHeader":
		// w:trPr/w:tblHeader marks a repeated header row.
		if p.top() >= 0 && p.tree.Nodes[p.top()].Type == entity.TableRow {
			p.tree.Nodes[p.top()].Type = entity.TableHeaderRow
		}
	case "tc":
		typ := entity.TableCell
		if parent := p.top(); parent >= 0 && p.tree.Nodes[parent].Type == entity.TableHeaderRow {
			typ = entity.TableHeaderCell
		}
		p.push(typ)
		p.cellText = append(p.cellText, "")
	case "p":
		p.inPara = true
		p.paraText.Reset()
		p.paraStyle = ""
		p.paraList = false
	case "pStyle":
		if p.inPara {
			for _, attr := range t.Attr {
				if attr.Name.Local == "val" {
					p.paraStyle = attr.Value
				}
			}
		}
	case "numPr":
		if p.inPara {
			p.paraList = true
		}
	case "t":
		p.inText = true
	case "tab":
		if p.inPara {
			p.paraText.WriteByte('\t')
		}
	case "br", "cr":
		if p.inPara {
			p.paraText.WriteByte(' ')
		}
	}
}

func (p *parser) chars(t xml.CharData) {
	if p.inText && p.inPara {
		p.paraText.Write(t)
	}
}

func (p *parser) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		p.inText = false
	case "p":
		if !p.inPara {
			return
		}
		p.inPara = false
		text := strings.TrimSpace(p.paraText.String())

		if p.inCell() && len(p.cellText) > 0 {
			// Cell paragraphs are absorbed into the cell leaf.
			if text != "" {
				i := len(p.cellText) - 1
				if p.cellText[i] != "" {
					p.cellText[i] += " "
				}
				p.cellText[i] += text
			}
			return
		}

		if text == "" {
			return
		}
		p.appendParagraph(text)
	case "tc":
		idx := p.top()
		p.pop()
		if idx >= 0 {
			if n := len(p.cellText) - 1; n >= 0 {
				p.tree.Nodes[idx].Text = p.cellText[n]
				p.cellText = p.cellText[:n]
			}
			p.tree.Nodes[idx].Leaf = true
		}
	case "tr", "tbl":
		p.pop()
	}
}

// appendParagraph finalizes a body-level paragraph, grouping consecutive
// list items under a synthetic list container.
func (p *parser) appendParagraph(text string) {
	typ := p.styles.Resolve(p.paraStyle)
	if p.paraList {
		typ = entity.ListItem
	}

	if typ == entity.ListItem {
		if p.openList < 0 {
			p.tree.Nodes = append(p.tree.Nodes, Node{
				Parent: p.top(),
				Depth:  len(p.containers),
				Type:   entity.List,
			})
			p.openList = len(p.tree.Nodes) - 1
		}
		p.tree.Nodes = append(p.tree.Nodes, Node{
			Parent: p.openList,
			Depth:  p.tree.Nodes[p.openList].Depth + 1,
			Type:   entity.ListItem,
			Style:  p.paraStyle,
			Text:   text,
			Leaf:   true,
		})
		return
	}

	p.closeList()
	p.tree.Nodes = append(p.tree.Nodes, Node{
		Parent: p.top(),
		Depth:  len(p.containers),
		Type:   typ,
		Style:  p.paraStyle,
		Text:   text,
		Leaf:   true,
	})
}

func (p *parser) closeList() { p.openList = -1 }
