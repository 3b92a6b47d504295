package config

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/alexisbeaulieu97/graphrun/internal/domain/agent"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	nodeIDPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	blockTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)
	portNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// validatorInstance configures and returns the shared validator instance used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		// Report fields by their yaml keys.
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return field.Name
			}
			return name
		})

		_ = v.RegisterValidation("node_id", func(fl validator.FieldLevel) bool {
			return nodeIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("block_type", func(fl validator.FieldLevel) bool {
			return blockTypePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("port_name", func(fl validator.FieldLevel) bool {
			return portNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("port_type", func(fl validator.FieldLevel) bool {
			return agent.DataType(fl.Field().String()).IsValid()
		})

		_ = v.RegisterValidation("port_ref", func(fl validator.FieldLevel) bool {
			node, port, ok := SplitRef(fl.Field().String())
			return ok && nodeIDPattern.MatchString(node) && portNamePattern.MatchString(port)
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns a configured validator instance for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}
