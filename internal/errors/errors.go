// Package errors provides centralized, categorized error handling for the
// restreamer control plane. It mirrors the error kinds of §7: Validation,
// Conflict, NotFound, ExternalUnavailable, ChildCrashed, PersistenceFailed
// and Fatal are all represented as Category values on a single wrapper type.
package errors

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Category classifies an error for API responses, logs and metrics.
type Category string

const (
	CategoryValidation          Category = "validation"
	CategoryConflict            Category = "conflict"
	CategoryNotFound            Category = "not-found"
	CategoryUnauthorized        Category = "unauthorized"
	CategoryExternalUnavailable Category = "external-unavailable"
	CategoryChildCrashed        Category = "child-crashed"
	CategoryPersistence         Category = "persistence-failed"
	CategoryFatal               Category = "fatal"
	CategoryInternal            Category = "internal"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// Enhanced wraps a cause with category, component and free-form context.
type Enhanced struct {
	err       error
	category  Category
	component string
	context   map[string]any
	timestamp time.Time

	mu sync.RWMutex
}

// Error implements the error interface.
func (e *Enhanced) Error() string {
	return e.err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Enhanced) Unwrap() error {
	return e.err
}

// Category returns the error's category.
func (e *Enhanced) Category() Category {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.category
}

// Component returns the component the error originated in.
func (e *Enhanced) Component() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.component == "" {
		return ComponentUnknown
	}
	return e.component
}

// Context returns a copy of the error's context map.
func (e *Enhanced) Context() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

// Builder accumulates context before producing an *Enhanced error.
type Builder struct {
	e *Enhanced
}

// New starts a Builder wrapping cause.
func New(cause error) *Builder {
	return &Builder{e: &Enhanced{
		err:       cause,
		category:  CategoryInternal,
		context:   make(map[string]any),
		timestamp: time.Now(),
	}}
}

// Category sets the error's category.
func (b *Builder) Category(c Category) *Builder {
	b.e.category = c
	return b
}

// Component names the package/subsystem where the error occurred.
func (b *Builder) Component(name string) *Builder {
	b.e.component = name
	return b
}

// Context attaches a key/value pair of diagnostic context.
func (b *Builder) Context(key string, value any) *Builder {
	b.e.context[key] = value
	return b
}

// Build finalizes and returns the *Enhanced error.
func (b *Builder) Build() *Enhanced {
	return b.e
}

// Is delegates to the standard library, allowing Enhanced errors to
// participate in errors.Is/As chains.
func Is(err, target error) bool { return errors.Is(err, target) }

// As delegates to the standard library.
func As(err error, target any) bool { return errors.As(err, target) }

// Wrap is a convenience constructor equivalent to
// New(fmt.Errorf(format, args...)).Category(cat).Component(component).Build().
func Wrap(cat Category, component, format string, args ...any) *Enhanced {
	return New(fmt.Errorf(format, args...)).Category(cat).Component(component).Build()
}

// CategoryOf extracts the Category of err if it (or something it wraps) is
// an *Enhanced, otherwise returns CategoryInternal.
func CategoryOf(err error) Category {
	var ee *Enhanced
	if As(err, &ee) {
		return ee.Category()
	}
	return CategoryInternal
}
