// Package sqlfake is a scripted infra.TxExecutor for store tests. Responses
// are registered per sqlinline constant and replayed in order.
package sqlfake

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"adstudio/internal/infra"
)

// Result is one scripted response. Row answers QueryRow, Rows answers Query
// and Affected answers Exec. Err short-circuits all three.
type Result struct {
	Row      []any
	Rows     [][]any
	Affected int64
	Err      error
}

// NoRows is a QueryRow response yielding pgx.ErrNoRows.
var NoRows = Result{Err: pgx.ErrNoRows}

// Call records one statement issued against the executor.
type Call struct {
	Query string
	Args  []any
	InTx  bool
}

type Executor struct {
	mu        sync.Mutex
	script    map[string][]Result
	calls     []Call
	inTx      bool
	Commits   int
	Rollbacks int
}

func New() *Executor {
	return &Executor{script: make(map[string][]Result)}
}

// On queues responses for query. The last response repeats once the queue
// drains.
func (e *Executor) On(query string, results ...Result) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script[query] = append(e.script[query], results...)
	return e
}

// Calls returns every statement issued so far.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsTo returns the statements issued for query.
func (e *Executor) CallsTo(query string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Query == query {
			out = append(out, c)
		}
	}
	return out
}

func (e *Executor) next(query string, args []any) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Query: query, Args: args, InTx: e.inTx})
	queue, ok := e.script[query]
	if !ok || len(queue) == 0 {
		return Result{}, fmt.Errorf("sqlfake: unscripted query %.60q", query)
	}
	res := queue[0]
	if len(queue) > 1 {
		e.script[query] = queue[1:]
	}
	return res, nil
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	res, err := e.next(query, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	if res.Err != nil {
		return pgconn.CommandTag{}, res.Err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", res.Affected)), nil
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	res, err := e.next(query, args)
	if err != nil {
		return row{err: err}
	}
	if res.Err != nil {
		return row{err: res.Err}
	}
	if res.Row == nil {
		return row{err: pgx.ErrNoRows}
	}
	return row{values: res.Row}
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	res, err := e.next(query, args)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &rows{data: res.Rows, idx: -1}, nil
}

// WithTx runs fn against the same executor, counting commits and rollbacks.
func (e *Executor) WithTx(ctx context.Context, fn func(tx infra.SQLExecutor) error) error {
	e.mu.Lock()
	e.inTx = true
	e.mu.Unlock()

	err := fn(e)

	e.mu.Lock()
	e.inTx = false
	if err != nil {
		e.Rollbacks++
	} else {
		e.Commits++
	}
	e.mu.Unlock()
	return err
}

type row struct {
	values []any
	err    error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type rows struct {
	data [][]any
	idx  int
	err  error
}

func (r *rows) Close()     {}
func (r *rows) Err() error { return r.err }

func (r *rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.data)))
}

func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("sqlfake: scan outside of rows")
	}
	return assign(r.data[r.idx], dest)
}

func (r *rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, fmt.Errorf("sqlfake: values outside of rows")
	}
	return r.data[r.idx], nil
}

func (r *rows) RawValues() [][]byte { return nil }

func (r *rows) Conn() *pgx.Conn { return nil }

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("sqlfake: %d values for %d destinations", len(values), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("sqlfake: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		switch {
		case v.Type().AssignableTo(elem.Type()):
			elem.Set(v)
		case v.Type().ConvertibleTo(elem.Type()):
			elem.Set(v.Convert(elem.Type()))
		case elem.Kind() == reflect.Pointer && v.Type().AssignableTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(v)
			elem.Set(p)
		default:
			return fmt.Errorf("sqlfake: cannot assign %T to destination %d (%s)", values[i], i, elem.Type())
		}
	}
	return nil
}

var _ infra.TxExecutor = (*Executor)(nil)
