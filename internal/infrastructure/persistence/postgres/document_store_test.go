package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/internal/domain/document"
)

func TestBuildQuerySQL(t *testing.T) {
	q := document.Query{
		Collection: "grades",
		Filters: []document.Filter{
			{Field: "value", Operator: document.OpGreaterOrEqual, Value: 5.0},
			{Field: "studentId", Operator: document.OpEqual, Value: "stu-1"},
		},
		OrderBy: []document.OrderBy{
			{Field: "recordedAt", Direction: document.Descending},
		},
		Limit: 20,
	}

	sql, args, err := buildQuerySQL(q)
	require.NoError(t, err)

	// Filters render in canonical order, so studentId comes before value.
	assert.Equal(t,
		`SELECT id, fields FROM documents WHERE collection = $1`+
			` AND fields->>'studentId' = $2`+
			` AND (fields->>'value')::numeric >= $3`+
			` ORDER BY fields->>'recordedAt' DESC LIMIT 20`,
		sql)
	assert.Equal(t, []any{"grades", "stu-1", 5.0}, args)
}

func TestBuildQuerySQLInOperator(t *testing.T) {
	q := document.Query{
		Collection: "attendance",
		Filters: []document.Filter{
			{Field: "group", Operator: document.OpIn, Value: []any{"1A", "1B"}},
		},
	}

	sql, args, err := buildQuerySQL(q)
	require.NoError(t, err)
	assert.Contains(t, sql, `fields->>'group' = ANY($2)`)
	assert.Equal(t, []string{"1A", "1B"}, args[1])
}

func TestBuildQuerySQLBooleanCast(t *testing.T) {
	q := document.Query{
		Collection: "attendance",
		Filters: []document.Filter{
			{Field: "present", Operator: document.OpEqual, Value: false},
		},
	}

	sql, _, err := buildQuerySQL(q)
	require.NoError(t, err)
	assert.Contains(t, sql, `(fields->>'present')::boolean = $2`)
}

func TestBuildQuerySQLUnknownOperator(t *testing.T) {
	q := document.Query{
		Collection: "grades",
		Filters: []document.Filter{
			{Field: "value", Operator: "~", Value: 1},
		},
	}

	_, _, err := buildQuerySQL(q)
	assert.ErrorIs(t, err, document.ErrUnknownOperator)
}

func TestNotifyChannelMatchesTrigger(t *testing.T) {
	assert.Equal(t, "doc_grades", notifyChannel("grades"))
	assert.Equal(t, `"doc_grades"`, pgx5QuoteIdent(notifyChannel("grades")))
}

func TestQuoteLiteralEscapes(t *testing.T) {
	assert.Equal(t, `'it''s'`, quoteLiteral("it's"))
}
