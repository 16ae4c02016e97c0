package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Direction は並び順。
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Table はテーブル単位の操作を提供する。
type Table struct {
	client *Client
	name   string
}

// filters はPostgRESTのクエリパラメータを組み立てる。
type filters struct {
	values url.Values
}

func (f *filters) eq(column string, value any) {
	if f.values == nil {
		f.values = url.Values{}
	}
	f.values.Add(column, "eq."+fmt.Sprint(value))
}

func (f *filters) query() url.Values {
	q := url.Values{}
	for k, vs := range f.values {
		q[k] = append([]string(nil), vs...)
	}
	return q
}

// Select は取得クエリを開始する。列を省略した場合は全列。
func (t *Table) Select(columns ...string) *Query {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(columns, ",")
	}
	return &Query{table: t, columns: cols}
}

// Query は取得クエリのビルダー。
type Query struct {
	table   *Table
	columns string
	filters filters
	order   []string
}

// Eq は等値フィルタを追加する。
func (q *Query) Eq(column string, value any) *Query {
	q.filters.eq(column, value)
	return q
}

// Order は並び順を追加する。
func (q *Query) Order(column string, dir Direction) *Query {
	suffix := ".asc"
	if dir == Descending {
		suffix = ".desc"
	}
	q.order = append(q.order, column+suffix)
	return q
}

func (q *Query) values() url.Values {
	v := q.filters.query()
	v.Set("select", q.columns)
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	return v
}

// Execute はクエリを実行し、行の配列をdestにデコードする。
func (q *Query) Execute(ctx context.Context, dest any) error {
	token, err := q.table.client.auth.AccessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := q.table.client.transport.send(ctx, request{
		op:     "select",
		target: q.table.name,
		method: http.MethodGet,
		path:   "/rest/v1/" + q.table.name,
		query:  q.values(),
		token:  token,
	})
	if err != nil {
		return err
	}

	return decodeJSON(resp.body, dest)
}

// Count は条件に一致する行数を返す。行データは取得しない。
func (q *Query) Count(ctx context.Context) (int, error) {
	token, err := q.table.client.auth.AccessToken(ctx)
	if err != nil {
		return 0, err
	}

	resp, err := q.table.client.transport.send(ctx, request{
		op:     "count",
		target: q.table.name,
		method: http.MethodHead,
		path:   "/rest/v1/" + q.table.name,
		query:  q.values(),
		token:  token,
		prefer: "count=exact",
	})
	if err != nil {
		return 0, err
	}

	return parseContentRange(resp.header.Get("Content-Range"))
}

// parseContentRange は "0-24/3573" や "*/0" 形式から総数を取り出す。
func parseContentRange(v string) (int, error) {
	i := strings.LastIndex(v, "/")
	if i < 0 || i == len(v)-1 {
		return 0, fmt.Errorf("invalid content-range: %q", v)
	}
	total := v[i+1:]
	if total == "*" {
		return 0, fmt.Errorf("content-range has no exact count: %q", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("invalid content-range: %q", v)
	}
	return n, nil
}

// Insert は行を挿入する。一意制約違反はIsUniqueViolationで判別できる。
func (t *Table) Insert(ctx context.Context, row any) error {
	token, err := t.client.auth.AccessToken(ctx)
	if err != nil {
		return err
	}

	_, err = t.client.transport.send(ctx, request{
		op:     "insert",
		target: t.name,
		method: http.MethodPost,
		path:   "/rest/v1/" + t.name,
		body:   row,
		token:  token,
		prefer: "return=minimal",
	})
	return err
}

// Update は更新のビルダーを返す。
func (t *Table) Update(patch any) *Mutation {
	return &Mutation{table: t, op: "update", method: http.MethodPatch, body: patch}
}

// Delete は削除のビルダーを返す。
func (t *Table) Delete() *Mutation {
	return &Mutation{table: t, op: "delete", method: http.MethodDelete}
}

// Mutation は更新・削除のビルダー。
type Mutation struct {
	table   *Table
	op      string
	method  string
	body    any
	filters filters
}

// Eq は等値フィルタを追加する。
func (m *Mutation) Eq(column string, value any) *Mutation {
	m.filters.eq(column, value)
	return m
}

// Execute は更新・削除を実行する。
// フィルタがない場合は送信せずErrUnfilteredを、一致する行がない場合はErrNoRowsを返す。
func (m *Mutation) Execute(ctx context.Context) error {
	if len(m.filters.values) == 0 {
		return ErrUnfiltered
	}

	token, err := m.table.client.auth.AccessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := m.table.client.transport.send(ctx, request{
		op:     m.op,
		target: m.table.name,
		method: m.method,
		path:   "/rest/v1/" + m.table.name,
		query:  m.filters.query(),
		body:   m.body,
		token:  token,
		prefer: "return=representation",
	})
	if err != nil {
		return err
	}

	var rows []json.RawMessage
	if err := decodeJSON(resp.body, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNoRows
	}
	return nil
}
