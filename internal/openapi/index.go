// Package openapi indexes the operations API specification so that logical
// endpoint ids resolve to the method and path template the backend serves.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// IndexedOperation holds a resolved OpenAPI operation.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	// BinaryResponse is set when the success response declares no JSON body.
	BinaryResponse bool
}

// ValidationError describes a request that does not satisfy the spec.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of the operations API keyed by operationId.
// A nil *Index is valid and contains nothing.
type Index struct {
	baseURL    string
	operations map[string]IndexedOperation
}

// NewIndex creates an empty OpenAPI index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]IndexedOperation)}
}

// LoadFile parses and validates the spec at path and indexes its operations.
func (idx *Index) LoadFile(path string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	return idx.index(doc)
}

// LoadData parses and validates an in-memory spec.
func (idx *Index) LoadData(data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing spec: %w", err)
	}
	return idx.index(doc)
}

func (idx *Index) index(doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating spec: %w", err)
	}

	if len(doc.Servers) > 0 {
		idx.baseURL = strings.TrimSuffix(doc.Servers[0].URL, "/")
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:    op.OperationID,
				Method:         method,
				PathTemplate:   path,
				Parameters:     params,
				RequestBody:    reqBody,
				BinaryResponse: binaryResponse(op.Responses),
			}
		}
	}

	return nil
}

func binaryResponse(responses *openapi3.Responses) bool {
	if responses == nil {
		return false
	}
	ok := responses.Status(200)
	if ok == nil || ok.Value == nil || len(ok.Value.Content) == 0 {
		return false
	}
	return ok.Value.Content.Get("application/json") == nil
}

// BaseURL returns the first server URL declared by the spec.
func (idx *Index) BaseURL() string {
	if idx == nil {
		return ""
	}
	return idx.baseURL
}

// Lookup returns the indexed operation with the given operationId.
func (idx *Index) Lookup(operationID string) (IndexedOperation, bool) {
	if idx == nil {
		return IndexedOperation{}, false
	}
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns all indexed operation ids, sorted.
func (idx *Index) OperationIDs() []string {
	if idx == nil {
		return nil
	}
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MissingParameters reports the required path, query and header parameters
// of operationID that are absent from the given values. Unknown operations
// report nothing.
func (idx *Index) MissingParameters(operationID string, path, query, headers map[string]string) []ValidationError {
	op, ok := idx.Lookup(operationID)
	if !ok {
		return nil
	}

	var errs []ValidationError
	for _, p := range op.Parameters {
		if !p.Required {
			continue
		}
		var present bool
		switch p.In {
		case openapi3.ParameterInPath:
			present = path[p.Name] != ""
		case openapi3.ParameterInQuery:
			present = query[p.Name] != ""
		case openapi3.ParameterInHeader:
			present = headerPresent(headers, p.Name)
		default:
			continue
		}
		if !present {
			errs = append(errs, ValidationError{
				Field:   p.In + "." + p.Name,
				Message: fmt.Sprintf("%s parameter %s is required", p.In, p.Name),
			})
		}
	}
	return errs
}

func headerPresent(headers map[string]string, name string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, name) && v != "" {
			return true
		}
	}
	return false
}
