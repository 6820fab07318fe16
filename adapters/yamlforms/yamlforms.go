// Package yamlforms reads declarations from YAML (or JSON) documents.
//
// YAML nodes map onto forms as follows:
//
//	string ':name'                   keyword (':' alone is the empty keyword)
//	any other string                 symbol
//	!str x                           string literal
//	integer, float, boolean          number and boolean literals
//	                                 (integers beyond int64 read as floats)
//	null, ~                          nil symbol
//	sequence                         list
//	mapping {a: x, b: y}             list (:a x :b y), in source order
//	!quote X                         quoted X
//	!key x, !sym x                   forced keyword or symbol
//
// Quoting style carries no meaning, so JSON input reads the same as YAML.
// Keywords in flow sequences need quotes: [def-msg, user, ':id', string].
//
// A document whose root sequence starts with a scalar holds one declaration.
// A root sequence of sequences holds one declaration per element. Multiple
// documents separated by --- are read in order.
package yamlforms

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/artpar/rpcspec/domain/form"
	"github.com/artpar/rpcspec/ports"
	"gopkg.in/yaml.v3"
)

// Custom tags understood by the reader.
const (
	TagQuote   = "!quote"
	TagKeyword = "!key"
	TagSymbol  = "!sym"
	TagString  = "!str"
)

const maxDepth = 256

// Alias expansion limits. Below aliasFloor nodes anything goes; past it the
// share of nodes reached through aliases must stay under the allowed ratio,
// which tightens as the document grows. maxNodes caps a document outright.
const (
	aliasFloor     = 1000
	aliasRatioLow  = 400_000
	aliasRatioHigh = 4_000_000
	maxNodes       = 4_000_000
)

// ErrExcessiveAliasing reports a document whose aliases expand out of proportion.
var ErrExcessiveAliasing = errors.New("document contains excessive aliasing")

// Decoder reads declarations from a YAML stream.
type Decoder struct {
	dec   *yaml.Decoder
	queue []ports.Declaration
	index int
	err   error
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: yaml.NewDecoder(r)}
}

// Ensure interface compliance.
var _ ports.DeclarationSource = (*Decoder)(nil)

// Next returns the next declaration, or io.EOF once the stream is exhausted.
// A decode error ends the stream; later calls return the same error.
func (d *Decoder) Next() (ports.Declaration, error) {
	for len(d.queue) == 0 {
		if d.err != nil {
			return ports.Declaration{}, d.err
		}
		if err := d.fill(); err != nil {
			d.err = err
			return ports.Declaration{}, err
		}
	}

	decl := d.queue[0]
	d.queue = d.queue[1:]
	return decl, nil
}

// fill decodes the next non-empty document into the queue.
func (d *Decoder) fill() error {
	var doc yaml.Node
	if err := d.dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}

	root := resolveAlias(doc.Content[0])
	if root.ShortTag() == "!!null" {
		return nil
	}
	if root.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: document root must be a sequence, got %s", root.Line, describe(root))
	}
	if len(root.Content) == 0 {
		return nil
	}

	nodes := root.Content
	if first := resolveAlias(root.Content[0]); first.Kind == yaml.ScalarNode {
		nodes = []*yaml.Node{root}
	}

	nd := &nodeDecoder{}
	for _, n := range nodes {
		f, err := nd.decode(n, 0, false)
		if err != nil {
			return err
		}
		line := resolveAlias(n).Line
		l, ok := f.(form.List)
		if !ok {
			return fmt.Errorf("line %d: declaration must be a list, got %s", line, form.TypeName(f))
		}
		d.index++
		d.queue = append(d.queue, ports.Declaration{Index: d.index, Line: line, Form: l})
	}
	return nil
}

// ReadAll drains src.
func ReadAll(src ports.DeclarationSource) ([]ports.Declaration, error) {
	var decls []ports.Declaration
	for {
		decl, err := src.Next()
		if errors.Is(err, io.EOF) {
			return decls, nil
		}
		if err != nil {
			return decls, err
		}
		decls = append(decls, decl)
	}
}

// Parse reads every declaration in data.
func Parse(data []byte) ([]ports.Declaration, error) {
	return ReadAll(NewDecoder(bytes.NewReader(data)))
}

// ParseFile reads every declaration in the file at path.
func ParseFile(path string) ([]ports.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	decls, err := Parse(data)
	if err != nil {
		return decls, fmt.Errorf("%s: %w", path, err)
	}
	return decls, nil
}

// ParseForm reads a single form from a YAML fragment.
func ParseForm(src string) (form.Form, error) {
	var n yaml.Node
	if err := yaml.Unmarshal([]byte(src), &n); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if n.Kind != yaml.DocumentNode || len(n.Content) == 0 {
		return form.Symbol(""), nil
	}
	return Decode(n.Content[0])
}

// Decode converts a YAML node into a form.
func Decode(n *yaml.Node) (form.Form, error) {
	return (&nodeDecoder{}).decode(n, 0, false)
}

// nodeDecoder counts the nodes of one document so aliases cannot expand it without bound.
type nodeDecoder struct {
	nodes   int
	aliased int
}

func allowedAliasRatio(nodes int) float64 {
	switch {
	case nodes <= aliasRatioLow:
		return 0.99
	case nodes >= aliasRatioHigh:
		return 0.10
	default:
		return 0.99 - 0.89*float64(nodes-aliasRatioLow)/float64(aliasRatioHigh-aliasRatioLow)
	}
}

func (d *nodeDecoder) count(n *yaml.Node, aliased bool) error {
	d.nodes++
	if aliased {
		d.aliased++
	}
	if d.nodes > maxNodes {
		return fmt.Errorf("line %d: document has more than %d nodes", n.Line, maxNodes)
	}
	if d.aliased > aliasFloor && float64(d.aliased)/float64(d.nodes) > allowedAliasRatio(d.nodes) {
		return fmt.Errorf("line %d: %w", n.Line, ErrExcessiveAliasing)
	}
	return nil
}

func (d *nodeDecoder) decode(n *yaml.Node, depth int, aliased bool) (form.Form, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("line %d: nesting deeper than %d", n.Line, maxDepth)
	}
	if n.Kind == yaml.AliasNode {
		aliased = true
		n = resolveAlias(n)
	}
	if err := d.count(n, aliased); err != nil {
		return nil, err
	}

	if n.Tag == TagQuote {
		inner := *n
		inner.Tag = ""
		inner.Style &^= yaml.TaggedStyle
		f, err := d.decode(&inner, depth+1, aliased)
		if err != nil {
			return nil, err
		}
		return form.Quote{Form: f}, nil
	}

	switch n.Kind {
	case yaml.ScalarNode:
		return decodeScalar(n)

	case yaml.SequenceNode:
		l := make(form.List, 0, len(n.Content))
		for _, c := range n.Content {
			f, err := d.decode(c, depth+1, aliased)
			if err != nil {
				return nil, err
			}
			l = append(l, f)
		}
		return l, nil

	case yaml.MappingNode:
		l := make(form.List, 0, len(n.Content))
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := resolveAlias(n.Content[i])
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping key must be a scalar, got %s", k.Line, describe(k))
			}
			v, err := d.decode(n.Content[i+1], depth+1, aliased)
			if err != nil {
				return nil, err
			}
			l = append(l, form.Keyword(strings.TrimPrefix(k.Value, ":")), v)
		}
		return l, nil

	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node %s", n.Line, describe(n))
	}
}

func decodeScalar(n *yaml.Node) (form.Form, error) {
	switch n.Tag {
	case TagKeyword:
		return form.Keyword(strings.TrimPrefix(n.Value, ":")), nil
	case TagSymbol:
		return form.Symbol(n.Value), nil
	case TagString:
		return form.String(n.Value), nil
	}

	switch tag := n.ShortTag(); tag {
	case "!!null":
		return form.Symbol(""), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return form.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return form.Int(i), nil
		}
		// Out of int64 range.
		var u uint64
		if err := n.Decode(&u); err == nil {
			return form.Float(float64(u)), nil
		}
		if f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64); err == nil {
			return form.Float(f), nil
		}
		return form.String(n.Value), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return form.Float(f), nil
	case "!!str":
		if strings.HasPrefix(n.Value, ":") {
			return form.Keyword(n.Value[1:]), nil
		}
		return form.Symbol(n.Value), nil
	default:
		return nil, fmt.Errorf("line %d: unsupported tag %s", n.Line, tag)
	}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func describe(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar " + n.ShortTag()
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
