// Package vast normalizes VAST (Video Ad Serving Template) and VMAP documents
// into the records the ad engine plays from. Documents are navigated through
// the small Node query surface so the parser backing them can be swapped.
package vast

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Node is the query surface the engine needs from a parsed markup tree.
type Node interface {
	// FindAll returns every descendant element with the given local tag
	// name, in document order. Namespace prefixes are ignored.
	FindAll(tag string) []Node
	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)
	// Text returns the concatenated character data of the element and all
	// of its descendants, CDATA included.
	Text() string
	// Tag returns the local tag name ("" for the document node).
	Tag() string
}

// Element is a Node backed by an etree element.
type Element struct {
	el *etree.Element
}

// ParseDocument parses raw markup into a document node.
func ParseDocument(data []byte) (*Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, NewError(CodeXMLParsing, "failed to parse markup", err)
	}
	if doc.Root() == nil {
		return nil, NewError(CodeXMLParsing, "document has no root element", nil)
	}
	return &Element{el: &doc.Element}, nil
}

// ParseDocumentString parses markup held in a string.
func ParseDocumentString(data string) (*Element, error) {
	return ParseDocument([]byte(strings.TrimSpace(data)))
}

func (e *Element) FindAll(tag string) []Node {
	if e == nil || e.el == nil {
		return nil
	}
	var out []Node
	var walk func(parent *etree.Element)
	walk = func(parent *etree.Element) {
		for _, child := range parent.ChildElements() {
			if child.Tag == tag {
				out = append(out, &Element{el: child})
			}
			walk(child)
		}
	}
	walk(e.el)
	return out
}

func (e *Element) Attr(name string) (string, bool) {
	if e == nil || e.el == nil {
		return "", false
	}
	attr := e.el.SelectAttr(name)
	if attr == nil {
		return "", false
	}
	return attr.Value, true
}

func (e *Element) Text() string {
	if e == nil || e.el == nil {
		return ""
	}
	var sb strings.Builder
	var collect func(parent *etree.Element)
	collect = func(parent *etree.Element) {
		for _, tok := range parent.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				sb.WriteString(t.Data)
			case *etree.Element:
				collect(t)
			}
		}
	}
	collect(e.el)
	return sb.String()
}

func (e *Element) Tag() string {
	if e == nil || e.el == nil {
		return ""
	}
	return e.el.Tag
}

// String renders the element back to markup, mostly for debug logging.
func (e *Element) String() string {
	if e == nil || e.el == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(e.el.Copy())
	out, err := doc.WriteToString()
	if err != nil {
		return fmt.Sprintf("<%s>", e.el.Tag)
	}
	return out
}

// first returns the first descendant with the tag, or nil.
func first(n Node, tag string) Node {
	if n == nil {
		return nil
	}
	if found := n.FindAll(tag); len(found) > 0 {
		return found[0]
	}
	return nil
}

// textOf returns the trimmed text of the first descendant with the tag.
func textOf(n Node, tag string) string {
	if el := first(n, tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

// textsOf returns the trimmed, non-blank texts of every descendant with the tag.
func textsOf(n Node, tag string) []string {
	if n == nil {
		return []string{}
	}
	out := []string{}
	for _, el := range n.FindAll(tag) {
		if v := strings.TrimSpace(el.Text()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// attrOf returns the attribute value or "" when absent.
func attrOf(n Node, name string) string {
	if n == nil {
		return ""
	}
	v, _ := n.Attr(name)
	return v
}
