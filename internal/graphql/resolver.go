package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

const maxPage = 100

// Orders is the order read model used by the resolver.
type Orders interface {
	Get(ctx context.Context, userID, id string) (*orders.Order, error)
	List(ctx context.Context, f orders.Filter) ([]*orders.Order, error)
}

// Wallet is the wallet read model used by the resolver.
type Wallet interface {
	Account(ctx context.Context, userID string) (wallet.Account, error)
	History(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error)
}

// Resolver is the root resolver. Every query is scoped to the principal on
// the context.
type Resolver struct {
	Registry *shipper.Registry
	Orders   Orders
	Wallet   Wallet
	Logger   *otelzap.Logger
	Metrics  *telemetry.Metrics
}

// NewResolver creates a new resolver with the given dependencies.
func NewResolver(registry *shipper.Registry, o Orders, w Wallet, logger *otelzap.Logger, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{
		Registry: registry,
		Orders:   o,
		Wallet:   w,
		Logger:   logger,
		Metrics:  metrics,
	}
}

func (r *Resolver) query(ctx context.Context, p auth.Principal) object {
	return object{
		"partners": resolverFunc(func(map[string]any) (any, error) {
			names := r.Registry.Names()
			out := make([]any, len(names))
			for i, n := range names {
				out[i] = object{"name": n}
			}
			return out, nil
		}),
		"wallet": resolverFunc(func(map[string]any) (any, error) {
			acct, err := r.Wallet.Account(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			return object{
				"userId":    acct.UserID,
				"balance":   wallet.FormatMinor(acct.Balance),
				"currency":  currency,
				"updatedAt": formatTime(acct.UpdatedAt),
				"transactions": resolverFunc(func(args map[string]any) (any, error) {
					txs, err := r.Wallet.History(ctx, p.UserID, clamp(intArg(args, "limit", 20), 1, maxPage))
					if err != nil {
						return nil, err
					}
					out := make([]any, len(txs))
					for i, t := range txs {
						out[i] = transactionToObject(t)
					}
					return out, nil
				}),
			}, nil
		}),
		"order": resolverFunc(func(args map[string]any) (any, error) {
			o, err := r.Orders.Get(ctx, p.UserID, stringArg(args, "id"))
			if errors.Is(err, orders.ErrOrderNotFound) || errors.Is(err, orders.ErrUnauthorized) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return orderToObject(o), nil
		}),
		"orders": resolverFunc(func(args map[string]any) (any, error) {
			f := orders.Filter{
				UserID: p.UserID,
				Limit:  clamp(intArg(args, "limit", 20), 1, maxPage),
				Offset: max(intArg(args, "offset", 0), 0),
			}
			if s := stringArg(args, "status"); s != "" {
				st, err := shipper.ParseStatus(s)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, s)
				}
				f.Statuses = []shipper.Status{st}
			}
			list, err := r.Orders.List(ctx, f)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(list))
			for i, o := range list {
				out[i] = orderToObject(o)
			}
			return out, nil
		}),
	}
}

// executor completes one operation, collecting field errors as it goes.
type executor struct {
	ctx    context.Context
	vars   map[string]any
	errors gqlerror.List
	logger *otelzap.Logger
}

func (e *executor) completeObject(obj object, sel ast.SelectionSet, path ast.Path) map[string]any {
	out := make(map[string]any, len(sel))
	e.collect(out, obj, sel, path)
	return out
}

func (e *executor) collect(out map[string]any, obj object, sel ast.SelectionSet, path ast.Path) {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if !e.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			if s.Name == "__typename" {
				out[key] = s.ObjectDefinition.Name
				continue
			}
			out[key] = e.resolveField(obj, s, append(path, ast.PathName(key)))
		case *ast.FragmentSpread:
			if e.included(s.Directives) && s.Definition != nil {
				e.collect(out, obj, s.Definition.SelectionSet, path)
			}
		case *ast.InlineFragment:
			if e.included(s.Directives) {
				e.collect(out, obj, s.SelectionSet, path)
			}
		}
	}
}

func (e *executor) resolveField(obj object, f *ast.Field, path ast.Path) any {
	v := obj[f.Name]
	if fn, ok := v.(resolverFunc); ok {
		res, err := fn(f.ArgumentMap(e.vars))
		if err != nil {
			e.fieldError(err, path)
			return nil
		}
		v = res
	}
	return e.complete(v, f.SelectionSet, path)
}

func (e *executor) complete(v any, sel ast.SelectionSet, path ast.Path) any {
	switch v := v.(type) {
	case nil:
		return nil
	case object:
		return e.completeObject(v, sel, path)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = e.complete(item, sel, append(path, ast.PathIndex(i)))
		}
		return out
	default:
		return v
	}
}

func (e *executor) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(e.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if inc, _ := d.ArgumentMap(e.vars)["if"].(bool); !inc {
			return false
		}
	}
	return true
}

// fieldError records err at path. Caller errors keep their message; anything
// else is logged and reported generically.
func (e *executor) fieldError(err error, path ast.Path) {
	msg := err.Error()
	if !errors.Is(err, orders.ErrInvalidStatus) {
		e.logger.Ctx(e.ctx).Error("GraphQL resolver failed", zap.String("path", path.String()), zap.Error(err))
		msg = "internal error"
	}
	e.errors = append(e.errors, &gqlerror.Error{Message: msg, Path: append(ast.Path(nil), path...)})
}
