package loader

import (
	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/route"
)

func moduleNotFound(e *route.Entry, err error) error {
	return domain.NewFunctionNotFoundError("ModuleNotFoundError: %s %v", e.Unit, err)
}

func syntaxError(e *route.Entry, err error) error {
	return domain.NewFunctionNotFoundError("SyntaxError: %s %v", e.Unit, err)
}

func missingEntry(e *route.Entry) error {
	return domain.NewFunctionExecutionError("missing handler as entry for function(%s)", e.Route)
}

func invalidEntry(e *route.Entry) error {
	return domain.NewFunctionExecutionError("handler should be as function type for function(%s)", e.Route)
}
