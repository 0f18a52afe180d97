// Package manifest loads CUE graph manifests. A manifest declares the
// nodes a producer's graph is expected to visit, which seeds the
// store's schema-drift detection before the first event arrives.
package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
)

// Node is one declared graph node.
type Node struct {
	Name string
	Kind string
}

// Edge is one declared transition between nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Manifest is the compiled form of a graph declaration.
type Manifest struct {
	Name  string
	Nodes []Node
	Edges []Edge
}

// NodeNames returns the declared node names in declaration order.
func (m *Manifest) NodeNames() []string {
	names := make([]string, len(m.Nodes))
	for i, n := range m.Nodes {
		names[i] = n.Name
	}
	return names
}

// Compile parses a CUE value into a Manifest.
//
// The value should be the graph struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`graph: { name: "agent", nodes: [...] }`)
//	m, err := Compile(v.LookupPath(cue.ParsePath("graph")))
//
// Nodes may be declared as bare strings or as {name, kind?} structs,
// matching the two payload shapes graph_start events carry.
func Compile(v cue.Value) (*Manifest, error) {
	if err := v.Err(); err != nil {
		return nil, wrapCUEError(err)
	}

	m := &Manifest{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, wrapCUEError(err)
		}
		m.Name = name
	}

	nodesVal := v.LookupPath(cue.ParsePath("nodes"))
	if !nodesVal.Exists() {
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: "nodes are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := nodesVal.List()
	if err != nil {
		return nil, wrapCUEError(err)
	}

	// Uniqueness is checked on NFC forms so that composed and
	// decomposed spellings of the same name collide here instead of
	// silently collapsing in the drift schema.
	seen := make(map[string]bool)
	for iter.Next() {
		node, err := compileNode(iter.Value())
		if err != nil {
			return nil, err
		}
		key := norm.NFC.String(node.Name)
		if seen[key] {
			return nil, &LoadError{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("duplicate node name %q", node.Name),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[key] = true
		m.Nodes = append(m.Nodes, node)
	}
	if len(m.Nodes) == 0 {
		return nil, &LoadError{
			Code:    ErrCodeInvalid,
			Message: "at least one node is required",
			Pos:     nodesVal.Pos(),
		}
	}

	edgesVal := v.LookupPath(cue.ParsePath("edges"))
	if edgesVal.Exists() {
		edgeIter, err := edgesVal.List()
		if err != nil {
			return nil, wrapCUEError(err)
		}
		for edgeIter.Next() {
			edge, err := compileEdge(edgeIter.Value(), seen)
			if err != nil {
				return nil, err
			}
			m.Edges = append(m.Edges, edge)
		}
	}

	return m, nil
}

// compileNode accepts "name" or {name: "name", kind?: "kind"}.
func compileNode(v cue.Value) (Node, error) {
	if name, err := v.String(); err == nil {
		if name == "" {
			return Node{}, &LoadError{
				Code:    ErrCodeInvalid,
				Message: "node name must not be empty",
				Pos:     v.Pos(),
			}
		}
		return Node{Name: name}, nil
	}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return Node{}, &LoadError{
			Code:    ErrCodeInvalid,
			Message: "node must be a string or a struct with a name field",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return Node{}, wrapCUEError(err)
	}
	if name == "" {
		return Node{}, &LoadError{
			Code:    ErrCodeInvalid,
			Message: "node name must not be empty",
			Pos:     nameVal.Pos(),
		}
	}

	node := Node{Name: name}
	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if kindVal.Exists() {
		kind, err := kindVal.String()
		if err != nil {
			return Node{}, wrapCUEError(err)
		}
		node.Kind = kind
	}
	return node, nil
}

func compileEdge(v cue.Value, declared map[string]bool) (Edge, error) {
	from, err := v.LookupPath(cue.ParsePath("from")).String()
	if err != nil {
		return Edge{}, wrapCUEError(err)
	}
	to, err := v.LookupPath(cue.ParsePath("to")).String()
	if err != nil {
		return Edge{}, wrapCUEError(err)
	}

	for _, name := range []string{from, to} {
		if !declared[norm.NFC.String(name)] {
			return Edge{}, &LoadError{
				Code:    ErrCodeInvalid,
				Message: fmt.Sprintf("edge references undeclared node %q", name),
				Pos:     v.Pos(),
			}
		}
	}

	edge := Edge{From: from, To: to}
	labelVal := v.LookupPath(cue.ParsePath("label"))
	if labelVal.Exists() {
		label, err := labelVal.String()
		if err != nil {
			return Edge{}, wrapCUEError(err)
		}
		edge.Label = label
	}
	return edge, nil
}

// Error code constants surfaced by the loader.
const (
	ErrCodeNotFound    = "E001" // Manifest path not found
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E005" // CUE build failed
	ErrCodeInvalid     = "E006" // Manifest failed validation
)

// LoadError is a manifest loading error with source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// wrapCUEError extracts position info from CUE errors.
func wrapCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return &LoadError{Code: ErrCodeBuildFailed, Message: err.Error()}
}
