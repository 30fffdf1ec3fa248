// Package document defines the remote document store ports for Aula Insights.
// The dashboard reads every entity (students, grades, attendance, alerts,
// messages) through live, query-scoped subscriptions against this store.
// The core depends only on the shapes declared here, not on a wire protocol.
package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT
// ══════════════════════════════════════════════════════════════════════════════

// ID is the store-assigned document identifier. Identity is the ID,
// never the positional index within a snapshot.
type ID string

// IsValid reports whether the ID is non-empty.
func (id ID) IsValid() bool {
	return len(id) > 0
}

// String returns the string form of the ID.
func (id ID) String() string {
	return string(id)
}

// Document is a store record: an identifier plus a field map.
type Document struct {
	// ID is the store-assigned identifier.
	ID ID

	// Fields maps field name to value.
	Fields map[string]any
}

// GetString returns the string field named key, or "" when absent or not a string.
func (d Document) GetString(key string) string {
	if s, ok := d.Fields[key].(string); ok {
		return s
	}
	return ""
}

// GetFloat returns the numeric field named key, or 0 when absent.
// JSON decoding delivers numbers as float64; integer values are widened.
func (d Document) GetFloat(key string) float64 {
	switch v := d.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// GetBool returns the boolean field named key, or false when absent.
func (d Document) GetBool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// GetTime returns the time field named key, or the zero time when absent.
// Accepts time.Time values and RFC 3339 strings.
func (d Document) GetTime(key string) time.Time {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	clone := Document{ID: d.ID}
	if d.Fields != nil {
		clone.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			clone.Fields[k] = v
		}
	}
	return clone
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY
// ══════════════════════════════════════════════════════════════════════════════

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpIn             Operator = "in"
)

// IsValid reports whether the operator is one the store understands.
func (op Operator) IsValid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterOrEqual,
		OpLessThan, OpLessOrEqual, OpIn:
		return true
	default:
		return false
	}
}

// Filter is a single field predicate on a query.
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// Direction orders query results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// OrderBy describes result ordering on one field.
type OrderBy struct {
	Field     string
	Direction Direction
}

// Query is a live query against one collection. Deps is a caller-supplied
// dependency tuple folded into the query signature so that two views of the
// same collection with different surrounding state never share a subscription.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []OrderBy
	Limit      int
	Deps       []string
}

// Validate reports whether the query is well-formed enough to subscribe.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return ErrEmptyCollection
	}
	if q.Limit < 0 {
		return ErrNegativeLimit
	}
	for _, f := range q.Filters {
		if strings.TrimSpace(f.Field) == "" {
			return ErrEmptyFilterField
		}
		if !f.Operator.IsValid() {
			return fmt.Errorf("%w: %q", ErrUnknownOperator, f.Operator)
		}
	}
	for _, o := range q.OrderBy {
		if strings.TrimSpace(o.Field) == "" {
			return ErrEmptyOrderField
		}
	}
	return nil
}

// Clone returns a deep copy of the query.
func (q Query) Clone() Query {
	clone := q
	if q.Filters != nil {
		clone.Filters = make([]Filter, len(q.Filters))
		copy(clone.Filters, q.Filters)
	}
	if q.OrderBy != nil {
		clone.OrderBy = make([]OrderBy, len(q.OrderBy))
		copy(clone.OrderBy, q.OrderBy)
	}
	if q.Deps != nil {
		clone.Deps = make([]string, len(q.Deps))
		copy(clone.Deps, q.Deps)
	}
	return clone
}

// sortedFilters returns the filters in a canonical order so that filter
// declaration order never changes the query identity.
func (q Query) sortedFilters() []Filter {
	filters := make([]Filter, len(q.Filters))
	copy(filters, q.Filters)
	sort.SliceStable(filters, func(i, j int) bool {
		if filters[i].Field != filters[j].Field {
			return filters[i].Field < filters[j].Field
		}
		return filters[i].Operator < filters[j].Operator
	})
	return filters
}

// CanonicalFilters exposes the canonical filter ordering for signature
// generation.
func (q Query) CanonicalFilters() []Filter {
	return q.sortedFilters()
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Update is one push from the store: either a full ordered snapshot of the
// query result, or a delivery error. Snapshots replace, never patch.
type Update struct {
	Docs []Document
	Err  error
}

// Subscription is one live stream of updates for a single query.
type Subscription interface {
	// Updates returns the push stream. It is closed when the subscription
	// ends, whether by Close or by a terminal store error.
	Updates() <-chan Update

	// Close tears down the stream. Safe to call more than once.
	Close() error
}

// Store is the remote document store collaborator.
type Store interface {
	// Subscribe opens a live subscription for the query. The first update
	// carries the initial result set.
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEmptyCollection - the query names no collection.
	ErrEmptyCollection = errors.New("document: query collection cannot be empty")

	// ErrNegativeLimit - the query limit is negative.
	ErrNegativeLimit = errors.New("document: query limit cannot be negative")

	// ErrEmptyFilterField - a filter has an empty field name.
	ErrEmptyFilterField = errors.New("document: filter field cannot be empty")

	// ErrUnknownOperator - a filter uses an operator the store does not support.
	ErrUnknownOperator = errors.New("document: unknown filter operator")

	// ErrEmptyOrderField - an order-by clause has an empty field name.
	ErrEmptyOrderField = errors.New("document: order field cannot be empty")

	// ErrPermissionDenied - the store refused delivery for this query.
	ErrPermissionDenied = errors.New("document: permission denied")

	// ErrStoreClosed - the store connection has been shut down.
	ErrStoreClosed = errors.New("document: store is closed")
)
