package xlreport

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/javajack/xlreport/issuer"
	"github.com/javajack/xlreport/sqlparam"
)

// Provider resolves the row source of one section instance. RowSource is
// called once each time the section is entered; the renderer closes the
// returned source on every exit path.
type Provider interface {
	RowSource(ec *Context) (issuer.Issuer[any], error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ec *Context) (issuer.Issuer[any], error)

func (f ProviderFunc) RowSource(ec *Context) (issuer.Issuer[any], error) { return f(ec) }

// Items returns a provider that evaluates an expression yielding a
// collection: a slice, a sequence, an Issuer or another Provider.
func Items(expression string) Provider {
	return itemsProvider(expression)
}

type itemsProvider string

func (p itemsProvider) RowSource(ec *Context) (issuer.Issuer[any], error) {
	val, err := ec.Evaluate(string(p))
	if err != nil {
		return nil, fmt.Errorf("evaluate items %q: %w", string(p), err)
	}
	src, err := toIssuer(ec, val)
	if err != nil {
		return nil, fmt.Errorf("items %q: %w", string(p), err)
	}
	return src, nil
}

// Func returns a provider backed by a Go function returning a collection.
func Func(fn func(ec *Context) (any, error)) Provider {
	return ProviderFunc(func(ec *Context) (issuer.Issuer[any], error) {
		val, err := fn(ec)
		if err != nil {
			return nil, err
		}
		return toIssuer(ec, val)
	})
}

// SQLProvider streams the rows of a query. Named parameters (:name or
// &name) are bound from the fields of the records being rendered,
// innermost section first, then from report variables.
type SQLProvider struct {
	Query   sqlparam.Query
	DB      *sql.DB // nil uses the database of the render
	Dialect sqlparam.Dialect
}

// SQL returns a provider for a named-parameter query.
func SQL(query string) *SQLProvider {
	return &SQLProvider{Query: sqlparam.Transform(query)}
}

// On sets the database the query runs against.
func (p *SQLProvider) On(db *sql.DB) *SQLProvider {
	p.DB = db
	return p
}

func (p *SQLProvider) RowSource(ec *Context) (issuer.Issuer[any], error) {
	db := p.DB
	if db == nil {
		db = ec.DB()
	}
	if db == nil {
		return nil, fmt.Errorf("sql provider: no database configured")
	}
	args, err := p.Query.ApplyFunc(ec.Lookup)
	if err != nil {
		return nil, err
	}
	if ec.Logger().Enabled(ec.Ctx(), slog.LevelDebug) {
		params := make(map[string]any, len(args))
		for i, name := range p.Query.Params() {
			params[name] = args[i]
		}
		if text, err := p.Query.Inline(params, p.Dialect); err == nil {
			ec.Logger().Debug("open sql source", "query", text)
		}
	}
	rows, err := issuer.OpenSQL(ec.Ctx(), db, p.Query.Text(), args...)
	if err != nil {
		return nil, err
	}
	return issuer.Any[issuer.Record](rows), nil
}

// FilterWhere returns a provider reading the live row source of the
// enclosing section with the given id. Records are taken from that source
// as long as where holds for (anchor, candidate), where anchor is the
// record the enclosing section is rendering. The first rejected record is
// left in place for the enclosing section.
func FilterWhere(section, where string) Provider {
	return &filterProvider{section: section, where: where}
}

type filterProvider struct {
	section string
	where   string
}

func (p *filterProvider) RowSource(ec *Context) (issuer.Issuer[any], error) {
	anc := ec.ancestor(p.section)
	if anc == nil {
		return nil, &UnresolvedReferenceError{Kind: "section", Name: p.section, Reason: "filter source is not an enclosing section"}
	}
	if anc.Source == nil {
		return nil, &UnresolvedReferenceError{Kind: "section", Name: p.section, Reason: "enclosing section has no row source"}
	}
	ov := &scopeOverlay{ec: ec}
	pred := func(anchor, candidate any) (bool, error) {
		scope := ov.scope()
		scope["anchor"] = anchor
		scope["candidate"] = candidate
		return ec.evaluator.IsConditionTrue(p.where, scope)
	}
	return issuer.Filter(anc.Source, anc.Record, pred), nil
}

// Ref returns a provider that looks up a report variable when the section
// is entered. The variable may hold a collection, an Issuer or a Provider.
// The lookup happens on first read and is memoized.
func Ref(name string) Provider {
	return ProviderFunc(func(ec *Context) (issuer.Issuer[any], error) {
		return issuer.NewLazy(func() (issuer.Issuer[any], error) {
			if !ec.ContainsVar(name) {
				return nil, &UnresolvedReferenceError{Kind: "provider", Name: name, Reason: "no such variable"}
			}
			return toIssuer(ec, ec.GetVar(name))
		}), nil
	})
}
