package registry

import (
	"fmt"

	"github.com/pitabwire/operations/internal/openapi"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

// VError describes a single validation error in a catalog. Warnings do not
// prevent the catalog from loading.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates catalogs structurally and against the operations API
// specification.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all catalogs. The index may be nil to skip OpenAPI checks.
func (v *Validator) Validate(catalogs []Catalog, index *openapi.Index) []VError {
	var errs []VError
	owner := make(map[string]string)

	for i, c := range catalogs {
		prefix := fmt.Sprintf("catalogs[%d]", i)
		if c.SourceFile != "" {
			prefix = c.SourceFile
		}
		for j := range c.Operations {
			op := &c.Operations[j]
			path := fmt.Sprintf("%s.operations[%d]", prefix, j)
			errs = append(errs, v.validateOperation(path, op, index)...)

			for _, key := range []string{op.ID, op.InternalName} {
				if key == "" {
					continue
				}
				if prev, dup := owner[key]; dup {
					errs = append(errs, VError{
						Path:    path,
						Code:    "DUPLICATE_KEY",
						Message: fmt.Sprintf("key %q already declared at %s", key, prev),
					})
					continue
				}
				owner[key] = path
			}
		}
	}
	return errs
}

// Errors filters out warnings.
func Errors(errs []VError) []VError {
	var out []VError
	for _, e := range errs {
		if !e.Warning {
			out = append(out, e)
		}
	}
	return out
}

func (v *Validator) validateOperation(prefix string, op *model.OperationDescriptor, index *openapi.Index) []VError {
	var errs []VError

	if op.ID == "" && op.InternalName == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id or internalName is required"})
	}
	if op.Scope == "" {
		errs = append(errs, VError{Path: prefix + ".scope", Code: "REQUIRED", Message: "scope is required"})
	} else if !op.Scope.Valid() {
		errs = append(errs, VError{Path: prefix + ".scope", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid scope %q", op.Scope)})
	}
	if op.ResultType == "" {
		errs = append(errs, VError{Path: prefix + ".resultType", Code: "REQUIRED", Message: "resultType is required"})
	} else if !op.ResultType.Valid() {
		errs = append(errs, VError{Path: prefix + ".resultType", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid resultType %q", op.ResultType)})
	}
	if !op.ShowForm.Valid() {
		errs = append(errs, VError{Path: prefix + ".showForm", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid showForm %q", op.ShowForm)})
	}

	if (op.HasFileUpload || op.SubmitWithQrCodeScan) && op.ShowForm != model.ShowFormAlways {
		errs = append(errs, VError{
			Path:    prefix + ".showForm",
			Code:    "FORM_IMPLIED",
			Message: "operations with uploads or QR scans always show their form",
			Warning: true,
		})
	}
	if len(op.ExportFormats) > 0 && !op.AllowExport {
		errs = append(errs, VError{
			Path:    prefix + ".exportFormats",
			Code:    "EXPORT_DISABLED",
			Message: "exportFormats is ignored unless allowExport is set",
			Warning: true,
		})
	}

	if index != nil && op.Scope.Valid() {
		errs = append(errs, v.validateEndpoints(prefix, op, index)...)
	}

	return errs
}

func (v *Validator) validateEndpoints(prefix string, op *model.OperationDescriptor, index *openapi.Index) []VError {
	kinds := []request.Kind{request.KindRun}
	if op.RequireConfirmationPassword {
		kinds = append(kinds, request.KindDataForRun)
	}
	if op.HasFileUpload {
		kinds = append(kinds, request.KindRunUpload)
	}
	if op.AllowExport {
		kinds = append(kinds, request.KindExport)
	}

	var errs []VError
	for _, kind := range kinds {
		ep, err := request.EndpointFor(op.Scope, kind)
		if err != nil {
			continue
		}
		if _, ok := index.Lookup(ep.ID); !ok {
			errs = append(errs, VError{
				Path:    prefix + ".scope",
				Code:    "OPERATION_NOT_FOUND",
				Message: fmt.Sprintf("%s endpoint %q not found in the API specification", kind, ep.ID),
			})
		}
	}
	return errs
}
