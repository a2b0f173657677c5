package widget

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Locator finds the configuration sources of the widgets to mount.
type Locator interface {
	Sources() ([]*ScriptSource, error)
}

// ScriptSource is a script element that loads the widget.
type ScriptSource struct {
	node *html.Node
}

// NewScriptSource wraps a script element.
func NewScriptSource(n *html.Node) *ScriptSource {
	return &ScriptSource{node: n}
}

// Attr returns the value of the element's attribute name.
func (s *ScriptSource) Attr(name string) (string, bool) {
	for _, a := range s.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Node returns the underlying script element.
func (s *ScriptSource) Node() *html.Node {
	return s.node
}

// HTMLLocator scans a parsed document for script elements whose src contains
// the widget script name. Tags carrying MountedAttr are skipped. Sources are
// returned in document order.
type HTMLLocator struct {
	Doc        *html.Node
	ScriptName string
}

// NewHTMLLocator creates a locator for doc matching ScriptName.
func NewHTMLLocator(doc *html.Node) *HTMLLocator {
	return &HTMLLocator{Doc: doc, ScriptName: ScriptName}
}

// Sources returns every matching script element.
func (l *HTMLLocator) Sources() ([]*ScriptSource, error) {
	name := l.ScriptName
	if name == "" {
		name = ScriptName
	}

	var out []*ScriptSource
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			s := NewScriptSource(n)
			if src, ok := s.Attr("src"); ok && strings.Contains(src, name) {
				if _, mounted := s.Attr(MountedAttr); !mounted {
					out = append(out, s)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(l.Doc)
	return out, nil
}
