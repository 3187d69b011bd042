package services

import (
	"fmt"
	"strings"
)

// Scope selects what a delete removes.
type Scope string

const (
	// ScopeOccurrence removes one generated transaction.
	ScopeOccurrence Scope = "occurrence"
	// ScopeFuture ends the rule and keeps its history.
	ScopeFuture Scope = "future"
	// ScopeAll removes the rule and all its transactions.
	ScopeAll Scope = "all"
)

// InvalidScopeError reports a delete scope that is not recognised.
type InvalidScopeError struct {
	Value string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid delete scope %q: must be one of occurrence, future, all", e.Value)
}

func ParseScope(s string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(s))); scope {
	case ScopeOccurrence, ScopeFuture, ScopeAll:
		return scope, nil
	default:
		return "", &InvalidScopeError{Value: s}
	}
}
