package mutation

import (
	"fmt"
	"slices"
	"strings"
)

// ObserveConfig is the set of change kinds an observer asks the host to
// report. The zero value requests nothing.
type ObserveConfig struct {
	ChildList       bool
	Subtree         bool
	Attributes      bool
	AttributeFilter []string
	CharacterData   bool
}

// IsZero reports whether the config requests no change kind at all.
func (c ObserveConfig) IsZero() bool {
	return !c.ChildList && !c.Attributes && !c.CharacterData
}

// Wants reports whether rec is visible to an observer registered with this
// config. self is true when rec.Node() is the observed target itself and
// false when it is a descendant of the target.
func (c ObserveConfig) Wants(rec Record, self bool) bool {
	if rec == nil {
		return false
	}
	if !self && !c.Subtree {
		return false
	}
	switch r := rec.(type) {
	case ChildList:
		return c.ChildList
	case AttributeChange:
		if !c.Attributes {
			return false
		}
		return len(c.AttributeFilter) == 0 || slices.Contains(c.AttributeFilter, r.Name)
	case TextChange:
		return c.CharacterData
	}
	return false
}

func (c ObserveConfig) String() string {
	var parts []string
	if c.ChildList {
		parts = append(parts, "childList")
	}
	if c.Subtree {
		parts = append(parts, "subtree")
	}
	if c.Attributes {
		if len(c.AttributeFilter) > 0 {
			parts = append(parts, fmt.Sprintf("attributes%v", c.AttributeFilter))
		} else {
			parts = append(parts, "attributes")
		}
	}
	if c.CharacterData {
		parts = append(parts, "characterData")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Host is the native change-notification mechanism of a document.
type Host interface {
	// Observe registers fn for batches of records about target (and its
	// descendants when cfg.Subtree is set). Batches are delivered in the
	// order the host observed the changes.
	Observe(target Node, cfg ObserveConfig, fn func([]Record)) (Subscription, error)
}

// Subscription is the handle returned by Host.Observe.
type Subscription interface {
	// Disconnect stops delivery. No fn call starts after Disconnect returns.
	// Calling it more than once is a no-op.
	Disconnect()
}
