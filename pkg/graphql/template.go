// Package graphql holds the request templates sent to the remote service and
// decodes the cursor-paginated connection envelopes it returns.
//
// Query documents are treated as opaque: a Template only checks that the
// document parses and records the variables its operation declares, so the
// paginator can refuse a template that cannot carry a cursor.
package graphql

import (
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Template is an immutable, parsed query document.
type Template struct {
	name      string
	document  string
	operation string
	variables map[string]struct{}
}

// Request is the JSON body posted to the GraphQL endpoint.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
}

// NewTemplate parses document and returns a Template for its first operation.
func NewTemplate(name, document string) (*Template, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: name, Input: document})
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if len(doc.Operations) == 0 {
		return nil, fmt.Errorf("template %s declares no operation", name)
	}

	op := doc.Operations[0]
	vars := make(map[string]struct{}, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		vars[def.Variable] = struct{}{}
	}

	return &Template{
		name:      name,
		document:  document,
		operation: op.Name,
		variables: vars,
	}, nil
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Operation returns the operation name, empty for anonymous operations.
func (t *Template) Operation() string {
	return t.operation
}

// Variables returns the declared variable names, sorted.
func (t *Template) Variables() []string {
	names := make([]string, 0, len(t.variables))
	for name := range t.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declares reports whether every given variable is declared by the operation.
func (t *Template) Declares(names ...string) bool {
	for _, name := range names {
		if _, ok := t.variables[name]; !ok {
			return false
		}
	}
	return true
}

// Request builds a request body carrying vars.
func (t *Template) Request(vars map[string]any) Request {
	return Request{
		Query:         t.document,
		Variables:     vars,
		OperationName: t.operation,
	}
}
