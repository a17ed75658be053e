// Package sqlstore serves data backend operations straight from PostgreSQL.
// Resources map to tables; every table is expected to have an id column.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ambiyansyah-risyal/opsclient/internal/backend"
)

// Store runs CRUD statements built from backend queries.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn with the postgres driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Select reads rows matching q. Filter values use PostgREST operator form
// ("gt.5", "in.(a,b)", "is.null"); a bare value is an equality match.
func (s *Store) Select(ctx context.Context, q backend.Query) (*backend.Result, error) {
	table, err := ident(q.Resource)
	if err != nil {
		return nil, err
	}
	columns, err := columnList(q.Columns)
	if err != nil {
		return nil, err
	}

	filters := q.Filters
	if q.ID != "" {
		filters = withID(filters, q.ID)
	}
	where, args, err := whereClause(filters)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", columns, table, where)
	if q.Order != "" {
		order, err := orderClause(q.Order)
		if err != nil {
			return nil, err
		}
		b.WriteString(order)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}

	rows, err := s.query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}

	total := -1
	if q.Count {
		if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM "+table+where, args...); err != nil {
			return nil, translateError(err)
		}
	}
	return &backend.Result{Rows: rows, Total: total, Status: http.StatusOK}, nil
}

// Insert creates one row from record's JSON fields and returns it.
func (s *Store) Insert(ctx context.Context, resource string, record any) (*backend.Result, error) {
	table, err := ident(resource)
	if err != nil {
		return nil, err
	}
	fields, err := toFields(record)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &backend.StatusError{Status: http.StatusBadRequest, Message: "insert requires at least one field"}
	}

	keys := sortedKeys(fields)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pq.QuoteIdentifier(k)
		marks[i] = "$" + strconv.Itoa(i+1)
		args[i] = fields[k]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &backend.Result{Rows: rows, Total: -1, Status: http.StatusCreated}, nil
}

// Update sets patch's fields on the row with the given id.
func (s *Store) Update(ctx context.Context, resource, id string, patch any) (*backend.Result, error) {
	table, err := ident(resource)
	if err != nil {
		return nil, err
	}
	fields, err := toFields(patch)
	if err != nil {
		return nil, err
	}
	delete(fields, "id")
	if len(fields) == 0 {
		return nil, &backend.StatusError{Status: http.StatusBadRequest, Message: "update requires at least one field"}
	}

	keys := sortedKeys(fields)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), i+1)
		args = append(args, fields[k])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *", table, strings.Join(sets, ", "), pq.QuoteIdentifier("id"), len(args))
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return affected(rows, resource, id)
}

// Delete removes the row with the given id and returns it.
func (s *Store) Delete(ctx context.Context, resource, id string) (*backend.Result, error) {
	table, err := ident(resource)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING *", table, pq.QuoteIdentifier("id"))
	rows, err := s.query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	return affected(rows, resource, id)
}

// query runs a statement and encodes every returned row as a JSON object.
func (s *Store) query(ctx context.Context, query string, args ...any) (json.RawMessage, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, translateError(err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	return data, nil
}

func affected(rows json.RawMessage, resource, id string) (*backend.Result, error) {
	if string(rows) == "[]" {
		return nil, &backend.StatusError{Status: http.StatusNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
	}
	return &backend.Result{Rows: rows, Total: -1, Status: http.StatusOK}, nil
}

func withID(filters map[string]string, id string) map[string]string {
	out := make(map[string]string, len(filters)+1)
	for k, v := range filters {
		out[k] = v
	}
	out["id"] = id
	return out
}

var comparisons = map[string]string{
	"eq":    "=",
	"neq":   "<>",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
}

func whereClause(filters map[string]string) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	for _, k := range sortedKeys(filters) {
		col, err := ident(k)
		if err != nil {
			return "", nil, err
		}
		v := filters[k]
		op, rest, hasOp := strings.Cut(v, ".")

		switch {
		case hasOp && op == "is":
			switch strings.ToLower(rest) {
			case "null":
				conds = append(conds, col+" IS NULL")
			case "true":
				conds = append(conds, col+" IS TRUE")
			case "false":
				conds = append(conds, col+" IS FALSE")
			default:
				return "", nil, badRequest("unsupported is filter %q on %s", rest, k)
			}
		case hasOp && op == "in":
			list := strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
			args = append(args, pq.Array(strings.Split(list, ",")))
			conds = append(conds, fmt.Sprintf("%s = ANY($%d)", col, len(args)))
		case hasOp && comparisons[op] != "":
			args = append(args, rest)
			conds = append(conds, fmt.Sprintf("%s %s $%d", col, comparisons[op], len(args)))
		default:
			args = append(args, v)
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(order string) (string, error) {
	parts := strings.Split(order, ",")
	terms := make([]string, 0, len(parts))
	for _, part := range parts {
		column, dir, _ := strings.Cut(strings.TrimSpace(part), ".")
		col, err := ident(column)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(dir, "desc") {
			terms = append(terms, col+" DESC")
		} else {
			terms = append(terms, col+" ASC")
		}
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func columnList(columns string) (string, error) {
	if columns == "" || columns == "*" {
		return "*", nil
	}
	parts := strings.Split(columns, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		col, err := ident(strings.TrimSpace(p))
		if err != nil {
			return "", err
		}
		out[i] = col
	}
	return strings.Join(out, ", "), nil
}

func ident(name string) (string, error) {
	if name == "" {
		return "", badRequest("empty identifier")
	}
	return pq.QuoteIdentifier(name), nil
}

// toFields flattens record into column values. Nested objects and arrays
// are stored as JSON text.
func toFields(record any) (map[string]any, error) {
	var raw []byte
	switch r := record.(type) {
	case json.RawMessage:
		raw = r
	case []byte:
		raw = r
	default:
		var err error
		if raw, err = json.Marshal(record); err != nil {
			return nil, badRequest("encode record: %v", err)
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, badRequest("record must be a JSON object: %v", err)
	}
	for k, v := range fields {
		switch v.(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(v)
			fields[k] = string(b)
		}
	}
	return fields, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func badRequest(format string, args ...any) error {
	return &backend.StatusError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// translateError maps driver errors onto HTTP statuses by SQLSTATE class.
// Context and connection errors are passed through unchanged.
func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &backend.StatusError{Status: http.StatusNotFound, Err: err}
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	status := http.StatusInternalServerError
	switch pqErr.Code.Class() {
	case "23":
		status = http.StatusConflict
	case "22", "42":
		status = http.StatusBadRequest
	case "08", "53", "57":
		status = http.StatusServiceUnavailable
	}
	return &backend.StatusError{
		Status:  status,
		Code:    string(pqErr.Code),
		Message: pqErr.Message,
		Err:     err,
	}
}
