package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/tournevent/shipbroker/internal/auth"
)

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL result.
type Response struct {
	Data   map[string]any `json:"data"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// Execute parses, validates and runs a query for the principal on ctx.
func (r *Resolver) Execute(ctx context.Context, req Request) *Response {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return errorResponse(gqlerror.Errorf("unauthenticated"))
	}

	doc, errs := gqlparser.LoadQuery(Schema, req.Query)
	if len(errs) > 0 {
		return &Response{Errors: errs}
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return errorResponse(gqlerror.Errorf("operation %q not found", req.OperationName))
	}
	if op.Operation != ast.Query {
		return errorResponse(gqlerror.Errorf("only queries are supported"))
	}
	vars, err := validator.VariableValues(Schema, op, req.Variables)
	if err != nil {
		return errorResponse(err)
	}

	e := &executor{ctx: ctx, vars: vars, logger: r.Logger}
	data := e.completeObject(r.query(ctx, p), op.SelectionSet, nil)
	return &Response{Data: data, Errors: e.errors}
}

func errorResponse(err error) *Response {
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		gqlErr = gqlerror.Wrap(err)
	}
	return &Response{Errors: gqlerror.List{gqlErr}}
}

// ServeHTTP handles POST /graphql. It must run behind auth.Middleware.
func (r *Resolver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var body Request
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(gqlerror.Errorf("invalid request body: %v", err)))
		return
	}
	resp := r.Execute(req.Context(), body)
	status := http.StatusOK
	if resp.Data == nil {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
