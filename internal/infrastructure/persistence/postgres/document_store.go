package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aula-hub/aula-insights/internal/domain/document"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT STORE
// Push-capable query store over the documents table. Each subscription holds
// a dedicated LISTEN connection on the collection's notify channel and
// requeries on every change, so subscribers always receive full snapshots.
// ══════════════════════════════════════════════════════════════════════════════

// DocumentStoreConfig contains configuration for the DocumentStore.
type DocumentStoreConfig struct {
	// Debounce coalesces change notifications that arrive in a burst into
	// one requery.
	Debounce time.Duration

	// QueryTimeout bounds each snapshot query.
	QueryTimeout time.Duration
}

// DefaultDocumentStoreConfig returns default configuration.
func DefaultDocumentStoreConfig() DocumentStoreConfig {
	return DocumentStoreConfig{
		Debounce:     100 * time.Millisecond,
		QueryTimeout: 10 * time.Second,
	}
}

// DocumentStore implements document.Store on PostgreSQL.
type DocumentStore struct {
	conn   *Connection
	logger *slog.Logger
	config DocumentStoreConfig
}

// NewDocumentStore creates a DocumentStore.
func NewDocumentStore(conn *Connection, logger *slog.Logger, config DocumentStoreConfig) *DocumentStore {
	if config.QueryTimeout <= 0 {
		config = DefaultDocumentStoreConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{conn: conn, logger: logger, config: config}
}

// Subscribe opens a live subscription. The initial snapshot is queried and
// pushed before any change notification is processed, and every later change
// to the collection triggers a requery and a fresh snapshot push.
func (s *DocumentStore) Subscribe(ctx context.Context, q document.Query) (document.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sql, args, err := buildQuerySQL(q)
	if err != nil {
		return nil, err
	}

	// Dedicated connection: LISTEN state is per session.
	pc, err := s.conn.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire listen connection: %w", err)
	}

	channel := notifyChannel(q.Collection)
	if _, err := pc.Exec(ctx, "LISTEN "+pgx5QuoteIdent(channel)); err != nil {
		pc.Release()
		return nil, fmt.Errorf("postgres: listen %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &documentSubscription{
		store:   s,
		query:   q,
		sql:     sql,
		args:    args,
		conn:    pc,
		updates: make(chan document.Update, 8),
		cancel:  cancel,
	}

	s.logger.Debug("document subscription opened",
		"collection", q.Collection, "filters", len(q.Filters), "limit", q.Limit)

	go sub.run(subCtx)
	return sub, nil
}

// notifyChannel returns the LISTEN/NOTIFY channel for a collection. Must
// match the notify_document_change trigger.
func notifyChannel(collection string) string {
	return "doc_" + collection
}

// pgx5QuoteIdent quotes an identifier for use in LISTEN.
func pgx5QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

type documentSubscription struct {
	store *DocumentStore
	query document.Query
	sql   string
	args  []any

	conn    *pgxpool.Conn
	updates chan document.Update
	cancel  context.CancelFunc

	closeOnce   sync.Once
	releaseOnce sync.Once
}

// release hands the LISTEN connection back to the pool exactly once. The
// session may carry an active LISTEN, so it is destroyed rather than reused.
func (s *documentSubscription) release() {
	s.releaseOnce.Do(func() {
		if conn := s.conn.Conn(); conn != nil {
			_ = conn.Close(context.Background())
		}
		s.conn.Release()
	})
}

// waitForChange blocks until the collection's notify channel fires or the
// subscription closes.
func (s *documentSubscription) waitForChange(ctx context.Context) error {
	_, err := s.conn.Conn().WaitForNotification(ctx)
	return err
}

func (s *documentSubscription) Updates() <-chan document.Update {
	return s.updates
}

// Close tears the stream down. Safe to call more than once.
func (s *documentSubscription) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

// run owns the subscription lifecycle: initial snapshot, then a
// notify/requery loop until Close.
func (s *documentSubscription) run(ctx context.Context) {
	defer func() {
		s.release()
		close(s.updates)
	}()

	if !s.pushSnapshot(ctx) {
		return
	}

	for {
		if err := s.waitForChange(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.emit(ctx, document.Update{Err: fmt.Errorf("postgres: wait for notification: %w", err)})
			return
		}
		s.debounce(ctx)
		if !s.pushSnapshot(ctx) {
			return
		}
	}
}

// debounce soaks up a notification burst before the requery.
func (s *documentSubscription) debounce(ctx context.Context) {
	if s.store.config.Debounce <= 0 {
		return
	}
	timer := time.NewTimer(s.store.config.Debounce)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// pushSnapshot queries the current result set and emits it. Returns false
// when the subscription is done, either closed or failed terminally.
func (s *documentSubscription) pushSnapshot(ctx context.Context) bool {
	queryCtx, cancel := context.WithTimeout(ctx, s.store.config.QueryTimeout)
	defer cancel()

	docs, err := s.store.queryDocuments(queryCtx, s.sql, s.args)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.emit(ctx, document.Update{Err: err})
		return false
	}
	return s.emit(ctx, document.Update{Docs: docs})
}

// emit pushes one update, dropping it when the subscription closes first.
func (s *documentSubscription) emit(ctx context.Context, u document.Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY BUILDING
// ══════════════════════════════════════════════════════════════════════════════

// queryDocuments runs one built snapshot query.
func (s *DocumentStore) queryDocuments(ctx context.Context, sql string, args []any) ([]document.Document, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var id string
		var fieldsJSON []byte
		if err := rows.Scan(&id, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		fields := make(map[string]any)
		if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
			return nil, fmt.Errorf("postgres: decode document %s: %w", id, err)
		}
		docs = append(docs, document.Document{ID: document.ID(id), Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate documents: %w", err)
	}
	return docs, nil
}

// buildQuerySQL translates a document query into SQL over the documents
// table. Filters compare through the JSONB fields column with a cast picked
// from the filter value's Go type.
func buildQuerySQL(q document.Query) (string, []any, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, fields FROM documents WHERE collection = $1`)
	args := []any{q.Collection}

	for _, f := range q.CanonicalFilters() {
		clause, arg, err := filterClause(f, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND ")
		b.WriteString(clause)
		args = append(args, arg)
	}

	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			dir := "ASC"
			if o.Direction == document.Descending {
				dir = "DESC"
			}
			fmt.Fprintf(&b, "fields->>%s %s", quoteLiteral(o.Field), dir)
		}
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	return b.String(), args, nil
}

// filterClause renders one filter. Numeric and boolean values compare
// through a cast so `"9" < "10"` style text ordering can never leak in.
func filterClause(f document.Filter, argN int) (string, any, error) {
	field := quoteLiteral(f.Field)

	if f.Operator == document.OpIn {
		if list, ok := f.Value.([]any); ok {
			return fmt.Sprintf("fields->>%s = ANY($%d)", field, argN), toTextSlice(list), nil
		}
		return fmt.Sprintf("fields->>%s = ANY($%d)", field, argN), []string{fmt.Sprint(f.Value)}, nil
	}

	op, err := sqlOperator(f.Operator)
	if err != nil {
		return "", nil, err
	}

	switch v := f.Value.(type) {
	case float64, float32, int, int32, int64:
		return fmt.Sprintf("(fields->>%s)::numeric %s $%d", field, op, argN), v, nil
	case bool:
		return fmt.Sprintf("(fields->>%s)::boolean %s $%d", field, op, argN), v, nil
	default:
		return fmt.Sprintf("fields->>%s %s $%d", field, op, argN), fmt.Sprint(v), nil
	}
}

// sqlOperator maps a comparison operator onto its SQL form.
func sqlOperator(op document.Operator) (string, error) {
	switch op {
	case document.OpEqual:
		return "=", nil
	case document.OpNotEqual:
		return "<>", nil
	case document.OpGreaterThan:
		return ">", nil
	case document.OpGreaterOrEqual:
		return ">=", nil
	case document.OpLessThan:
		return "<", nil
	case document.OpLessOrEqual:
		return "<=", nil
	default:
		return "", fmt.Errorf("%w: %q", document.ErrUnknownOperator, op)
	}
}

// toTextSlice renders an "in" list as text for the ANY comparison.
func toTextSlice(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// quoteLiteral renders a string literal for field names inside built SQL.
// Field names come from code, not user input, but quoting keeps the built
// statement well formed regardless.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
