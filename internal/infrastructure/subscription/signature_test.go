package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aula-hub/aula-insights/internal/domain/document"
)

func baseQuery() document.Query {
	return document.Query{
		Collection: "grades",
		Filters: []document.Filter{
			{Field: "studentId", Operator: document.OpEqual, Value: "stu-1"},
			{Field: "value", Operator: document.OpGreaterOrEqual, Value: 5.0},
		},
		OrderBy: []document.OrderBy{
			{Field: "recordedAt", Direction: document.Descending},
		},
		Limit: 20,
		Deps:  []string{"stu-1", "2026-T1"},
	}
}

func TestSignatureOfDeterministic(t *testing.T) {
	a := SignatureOf(baseQuery())
	b := SignatureOf(baseQuery())
	assert.Equal(t, a, b)
	assert.Len(t, a.String(), 64)
}

func TestSignatureOfFilterOrderIrrelevant(t *testing.T) {
	q1 := baseQuery()
	q2 := baseQuery()
	q2.Filters[0], q2.Filters[1] = q2.Filters[1], q2.Filters[0]

	assert.Equal(t, SignatureOf(q1), SignatureOf(q2))
}

func TestSignatureOfDistinguishesQueries(t *testing.T) {
	base := SignatureOf(baseQuery())

	tests := []struct {
		name   string
		mutate func(*document.Query)
	}{
		{"collection", func(q *document.Query) { q.Collection = "attendance" }},
		{"filter value", func(q *document.Query) { q.Filters[0].Value = "stu-2" }},
		{"filter operator", func(q *document.Query) { q.Filters[0].Operator = document.OpNotEqual }},
		{"limit", func(q *document.Query) { q.Limit = 10 }},
		{"order direction", func(q *document.Query) { q.OrderBy[0].Direction = document.Ascending }},
		{"deps", func(q *document.Query) { q.Deps = []string{"stu-1", "2026-T2"} }},
		{"value type", func(q *document.Query) { q.Filters[1].Value = "5" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := baseQuery()
			tt.mutate(&q)
			assert.NotEqual(t, base, SignatureOf(q))
		})
	}
}

func TestSignatureOfDepsOrderMatters(t *testing.T) {
	q1 := baseQuery()
	q2 := baseQuery()
	q2.Deps = []string{"2026-T1", "stu-1"}

	assert.NotEqual(t, SignatureOf(q1), SignatureOf(q2))
}
