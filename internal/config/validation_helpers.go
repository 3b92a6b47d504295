package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

// convertValidationError normalizes validator errors into graphrun validation errors.
func convertValidationError(root string, err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlFieldName(root, ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return graphrunerrors.NewValidationError(field, msg, err)
	}

	return graphrunerrors.NewValidationError(root, err.Error(), err)
}

// yamlFieldName turns Document.nodes[0].id into nodes[0].id. Namespace
// segments already carry yaml names through the registered tag name func.
func yamlFieldName(root string, fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok || path == "" {
		return root
	}
	return path
}

func fieldForNode(index int, field string) string {
	return fmt.Sprintf("nodes[%d].%s", index, field)
}

func fieldForLink(index int, field string) string {
	return fmt.Sprintf("links[%d].%s", index, field)
}
