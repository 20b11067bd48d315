// Package recognize detects one declared DOM change in a stream of mutation
// batches and delivers it once to a waiting caller.
//
// A Filter turns a batch of mutation.Record values into at most one Match.
// A Recognizer wires a Filter to a mutation.Host subscription: subscribe,
// match once, disconnect, and optionally re-dispatch after a delay.
//
// Under-specified patterns never match rather than failing; use
// Recognizer.Description in logs to debug a recognizer that never fires.
package recognize

import (
	"errors"
	"maps"
	"strings"

	"github.com/hazyhaar/domwait/mutation"
)

var (
	ErrEmptyPattern   = errors.New("recognize: pattern has no criteria")
	ErrAmbiguousShape = errors.New("recognize: both added and removed child shapes are set")
	ErrNoTarget       = errors.New("recognize: pattern has no target")
	ErrNoHost         = errors.New("recognize: no host to observe")
)

// Shape describes an element searched for among added or removed nodes.
// An empty Name or "*" matches any tag; nil Attributes match anything.
type Shape struct {
	Name       string            `json:"name,omitempty" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

func (s *Shape) clone() *Shape {
	if s == nil {
		return nil
	}
	return &Shape{
		Name:       strings.ToLower(strings.TrimSpace(s.Name)),
		Attributes: maps.Clone(s.Attributes),
	}
}

func (s *Shape) anyTag() bool {
	return s.Name == "" || s.Name == "*"
}

// Pattern declares the single change a recognizer waits for.
//
// Target is borrowed: it is compared by identity and never mutated.
// When both AddedChild and RemovedChild are set, AddedChild wins.
type Pattern struct {
	Target           mutation.Node
	AddedChild       *Shape
	RemovedChild     *Shape
	ChangedAttribute string
	Text             string
}

// Validate reports caller errors that would otherwise surface as a
// recognizer that never fires. It is advisory: NewFilter and New accept
// invalid patterns.
func (p Pattern) Validate() error {
	var errs []error
	if p.Target == nil {
		errs = append(errs, ErrNoTarget)
	}
	if p.AddedChild != nil && p.RemovedChild != nil {
		errs = append(errs, ErrAmbiguousShape)
	}
	if p.AddedChild == nil && p.RemovedChild == nil && p.ChangedAttribute == "" && p.Text == "" {
		errs = append(errs, ErrEmptyPattern)
	}
	return errors.Join(errs...)
}
