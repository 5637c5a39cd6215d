// Package dbtest provides an in-memory database.Provider for tests.
//
// A Provider answers every call through its Handler, records the calls it
// saw and counts acquired and released connections so tests can assert
// that nothing leaks.
package dbtest

import (
	"context"
	"sync"

	"github.com/koustreak/sproc/internal/database"
)

// Set is one canned result set.
type Set struct {
	Columns []string
	Rows    [][]any
}

// Table builds a Set from column names and rows.
func Table(columns []string, rows ...[]any) Set {
	return Set{Columns: columns, Rows: rows}
}

// Result is what the fake database returns for one call.
type Result struct {
	Sets     []Set
	Affected int64
	Err      error // returned from Exec / Query
	IterErr  error // returned from Rows.Err
}

// Returning answers every call with the given result sets.
func Returning(sets ...Set) func(*database.Call) Result {
	return func(*database.Call) Result { return Result{Sets: sets} }
}

// Failing answers every call with err.
func Failing(err error) func(*database.Call) Result {
	return func(*database.Call) Result { return Result{Err: err} }
}

// Provider is a fake database.Provider. The zero value answers every call
// with no result sets.
type Provider struct {
	Handler    func(*database.Call) Result
	AcquireErr error
	PingErr    error

	mu       sync.Mutex
	calls    []database.Call
	acquired int
	released int
	openRows int
	closed   bool
}

// New returns a Provider using handler.
func New(handler func(*database.Call) Result) *Provider {
	return &Provider{Handler: handler}
}

func (p *Provider) Acquire(_ context.Context) (database.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	p.acquired++
	return &conn{p: p}, nil
}

func (p *Provider) Ping(_ context.Context) error { return p.PingErr }

func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Calls returns copies of every call seen so far.
func (p *Provider) Calls() []database.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]database.Call, len(p.calls))
	for i, c := range p.calls {
		c.Params = append([]database.Param(nil), c.Params...)
		out[i] = c
	}
	return out
}

// Acquired returns how many connections were handed out.
func (p *Provider) Acquired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

// Released returns how many connections were given back.
func (p *Provider) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// OpenRows returns how many result cursors are still open.
func (p *Provider) OpenRows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openRows
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Provider) answer(call *database.Call) Result {
	p.mu.Lock()
	p.calls = append(p.calls, *call)
	h := p.Handler
	p.mu.Unlock()
	if h == nil {
		return Result{}
	}
	return h(call)
}

type conn struct {
	p        *Provider
	released bool
}

func (c *conn) Exec(_ context.Context, call *database.Call) (int64, error) {
	res := c.p.answer(call)
	if res.Err != nil {
		return 0, res.Err
	}
	return res.Affected, nil
}

func (c *conn) Query(_ context.Context, call *database.Call) (database.Rows, error) {
	res := c.p.answer(call)
	if res.Err != nil {
		return nil, res.Err
	}
	c.p.mu.Lock()
	c.p.openRows++
	c.p.mu.Unlock()
	return &rows{p: c.p, sets: res.Sets, row: -1, err: res.IterErr}, nil
}

func (c *conn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.p.mu.Lock()
	c.p.released++
	c.p.mu.Unlock()
}

type rows struct {
	p      *Provider
	sets   []Set
	set    int
	row    int
	err    error
	closed bool
}

func (r *rows) Next() bool {
	if r.closed || r.set >= len(r.sets) {
		return false
	}
	r.row++
	return r.row < len(r.sets[r.set].Rows)
}

func (r *rows) Values() ([]any, error) {
	vals := r.sets[r.set].Rows[r.row]
	return append([]any(nil), vals...), nil
}

func (r *rows) Columns() ([]string, error) {
	if r.set >= len(r.sets) {
		return nil, nil
	}
	return r.sets[r.set].Columns, nil
}

func (r *rows) NextResultSet() bool {
	if r.closed || r.set+1 >= len(r.sets) {
		return false
	}
	r.set++
	r.row = -1
	return true
}

func (r *rows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.p.mu.Lock()
	r.p.openRows--
	r.p.mu.Unlock()
}

func (r *rows) Err() error { return r.err }
