// Package request resolves an operation's scope to the endpoint family that
// serves it and builds transport-agnostic run requests.
package request

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"

	"github.com/pitabwire/operations/model"
)

// SelfOwner is the owner sentinel used for user-scoped operations run
// without an explicit owner.
const SelfOwner = "self"

// HeaderConfirmationPassword carries the confirmation credential.
const HeaderConfirmationPassword = "Confirmation-Password"

// OperationParam is the path parameter holding the operation key.
const OperationParam = "operation"

// FormatParam is the path parameter holding the export format.
const FormatParam = "format"

// Kind selects one of the endpoints every scope exposes.
type Kind int

const (
	KindDataForRun Kind = iota
	KindRun
	KindRunUpload
	KindExport
)

func (k Kind) String() string {
	switch k {
	case KindDataForRun:
		return "data-for-run"
	case KindRun:
		return "run"
	case KindRunUpload:
		return "run-upload"
	case KindExport:
		return "export"
	}
	return "unknown"
}

// Endpoint is one endpoint of the operations API.
type Endpoint struct {
	ID           string
	Method       string
	PathTemplate string
}

// PageData requests one page of a result page.
type PageData struct {
	Page     int
	PageSize int
}

// Options are the per-run inputs of Build.
type Options struct {
	ScopeID              string
	ConfirmationPassword string
	ScannedQRCode        string
	FormParameters       map[string]string
	Page                 *PageData
	Upload               *model.Upload
	ExportFormat         string
}

// route is the endpoint family of a scope.
type route struct {
	name     string
	prefix   string
	keyParam string
}

func routeFor(scope model.Scope) (route, error) {
	switch scope {
	case model.ScopeUser:
		return route{name: "User", prefix: "/{owner}", keyParam: "owner"}, nil
	case model.ScopeAdvertisement:
		return route{name: "Ad", prefix: "/marketplace/{ad}", keyParam: "ad"}, nil
	case model.ScopeRecord:
		return route{name: "Record", prefix: "/records/{id}", keyParam: "id"}, nil
	case model.ScopeTransfer:
		return route{name: "Transfer", prefix: "/transfers/{key}", keyParam: "key"}, nil
	case model.ScopeMenu:
		return route{name: "Menu", prefix: "/menu/{menu}", keyParam: "menu"}, nil
	case model.ScopeSystem, model.ScopeInternal:
		return route{}, nil
	}
	return route{}, fmt.Errorf("request: %w: unknown scope %q", model.ErrMalformedDescriptor, scope)
}

func (r route) endpoint(kind Kind) Endpoint {
	base := r.prefix + "/operations/{" + OperationParam + "}"
	switch kind {
	case KindDataForRun:
		return Endpoint{ID: "get" + r.name + "OperationDataForRun", Method: http.MethodGet, PathTemplate: base + "/data-for-run"}
	case KindRun:
		return Endpoint{ID: "run" + r.name + "Operation", Method: http.MethodPost, PathTemplate: base + "/run"}
	case KindRunUpload:
		return Endpoint{ID: "run" + r.name + "OperationWithUpload", Method: http.MethodPost, PathTemplate: base + "/run-upload"}
	case KindExport:
		return Endpoint{ID: "export" + r.name + "Operation", Method: http.MethodPost, PathTemplate: base + "/export/{" + FormatParam + "}"}
	}
	return Endpoint{}
}

// EndpointFor returns the endpoint of the given kind serving scope.
func EndpointFor(scope model.Scope, kind Kind) (Endpoint, error) {
	r, err := routeFor(scope)
	if err != nil {
		return Endpoint{}, err
	}
	return r.endpoint(kind), nil
}

func (r route) pathParams(op *model.OperationDescriptor, scopeID string) (map[string]string, error) {
	params := map[string]string{OperationParam: op.Key()}
	switch op.Scope {
	case model.ScopeUser:
		if scopeID == "" {
			scopeID = SelfOwner
		}
	case model.ScopeAdvertisement, model.ScopeRecord, model.ScopeTransfer, model.ScopeMenu:
		if scopeID == "" {
			return nil, model.NewBadRequestError(fmt.Sprintf("operation %s requires a %s scope id", op.Key(), op.Scope))
		}
	case model.ScopeSystem, model.ScopeInternal:
		return params, nil
	}
	params[r.keyParam] = scopeID
	return params, nil
}

// Build resolves op's scope and produces the run request. The result is
// requested as binary when the operation downloads a file or an export
// format is given, independent of the scope.
func Build(op *model.OperationDescriptor, opts Options) (model.RequestSpec, error) {
	if op == nil {
		return model.RequestSpec{}, errors.New("request: nil operation")
	}
	r, err := routeFor(op.Scope)
	if err != nil {
		return model.RequestSpec{}, err
	}
	if opts.Upload != nil && opts.ExportFormat != "" {
		return model.RequestSpec{}, model.NewBadRequestError("an upload cannot be combined with an export")
	}

	asBinary := op.ResultType == model.ResultFileDownload || opts.ExportFormat != ""

	kind := KindRun
	switch {
	case opts.ExportFormat != "":
		kind = KindExport
	case opts.Upload != nil:
		kind = KindRunUpload
	}

	params, err := r.pathParams(op, opts.ScopeID)
	if err != nil {
		return model.RequestSpec{}, err
	}
	if kind == KindExport {
		params[FormatParam] = opts.ExportFormat
	}

	ep := r.endpoint(kind)
	spec := model.RequestSpec{
		Scope:        op.Scope,
		OperationKey: op.Key(),
		Endpoint:     ep.ID,
		Method:       ep.Method,
		PathTemplate: ep.PathTemplate,
		PathParams:   params,
		QueryParams:  map[string]string{},
		Headers:      map[string]string{},
		Body: &model.RunBody{
			FormParameters: maps.Clone(opts.FormParameters),
			ScannedQrCode:  opts.ScannedQRCode,
		},
		Upload:       opts.Upload,
		AsBinary:     asBinary,
		ExportFormat: opts.ExportFormat,
	}
	if opts.ConfirmationPassword != "" {
		spec.Headers[HeaderConfirmationPassword] = opts.ConfirmationPassword
	}
	if opts.Page != nil {
		spec.QueryParams["page"] = strconv.Itoa(opts.Page.Page)
		if opts.Page.PageSize > 0 {
			spec.QueryParams["pageSize"] = strconv.Itoa(opts.Page.PageSize)
		}
	}
	return spec, nil
}

// BuildRunData produces the data-for-run request for op.
func BuildRunData(op *model.OperationDescriptor, scopeID string) (model.RequestSpec, error) {
	if op == nil {
		return model.RequestSpec{}, errors.New("request: nil operation")
	}
	r, err := routeFor(op.Scope)
	if err != nil {
		return model.RequestSpec{}, err
	}
	params, err := r.pathParams(op, scopeID)
	if err != nil {
		return model.RequestSpec{}, err
	}
	ep := r.endpoint(KindDataForRun)
	return model.RequestSpec{
		Scope:        op.Scope,
		OperationKey: op.Key(),
		Endpoint:     ep.ID,
		Method:       ep.Method,
		PathTemplate: ep.PathTemplate,
		PathParams:   params,
		QueryParams:  map[string]string{},
		Headers:      map[string]string{},
	}, nil
}

// CredentialValue encodes a credential the way the confirmation header
// expects it. Device confirmations are prefixed with "device:".
func CredentialValue(c model.Credential) string {
	if c.Empty() {
		return ""
	}
	switch c.Kind {
	case model.CredentialDevice:
		return "device:" + c.Value
	case model.CredentialPassword:
		return c.Value
	}
	return c.Value
}
