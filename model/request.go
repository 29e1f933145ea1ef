package model

import "context"

// RunBody is the JSON body sent when running an operation.
type RunBody struct {
	FormParameters map[string]string `json:"formParameters,omitempty"`
	ScannedQrCode  string            `json:"scannedQrCode,omitempty"`
}

// Upload is a file sent with operations that accept uploads.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// RequestSpec is a fully resolved, transport-agnostic description of a
// request against the operations API.
type RequestSpec struct {
	Scope        Scope
	OperationKey string
	// Endpoint is the logical endpoint id, e.g. runUserOperation.
	Endpoint     string
	Method       string
	PathTemplate string
	PathParams   map[string]string
	QueryParams  map[string]string
	Headers      map[string]string
	Body         *RunBody
	Upload       *Upload
	AsBinary     bool
	ExportFormat string
}

// Transport performs requests against the operations API.
type Transport interface {
	Invoke(ctx context.Context, req RequestSpec) (Outcome, error)
	FetchRunData(ctx context.Context, req RequestSpec) (RunData, error)
}

// Breadcrumb is the ordered history of navigation paths, most recent last.
type Breadcrumb interface {
	Current() []string
	Truncate(length int)
}

// Router navigates the application to a path. When replace is true the
// current history entry is replaced instead of a new one being pushed.
type Router interface {
	NavigateTo(ctx context.Context, path string, params map[string]string, replace bool) error
}

// Credential is a confirmation credential supplied by the user.
type Credential struct {
	Kind  CredentialKind `json:"kind,omitempty"`
	Value string         `json:"value,omitempty"`
}

// Empty reports whether no credential value was supplied.
func (c Credential) Empty() bool {
	return c.Value == ""
}

// ConfirmationRequest is what the user is asked to confirm.
type ConfirmationRequest struct {
	Operation *OperationDescriptor      `json:"operation"`
	Message   string                    `json:"message,omitempty"`
	Password  *ConfirmationPasswordSpec `json:"passwordInput,omitempty"`
	Attempt   int                       `json:"attempt,omitempty"`
}

// ConfirmationResponse is the user's answer. Confirmed=false is a cancel.
type ConfirmationResponse struct {
	Confirmed  bool
	Credential Credential
}

// ConfirmationPrompter asks the user to confirm a run.
type ConfirmationPrompter interface {
	Prompt(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)
}

// Notifier shows notifications on the three levels.
type Notifier interface {
	Info(ctx context.Context, text string)
	Warning(ctx context.Context, text string)
	Error(ctx context.Context, text string)
}

// FileSaver persists a downloaded file.
type FileSaver interface {
	Save(ctx context.Context, blob []byte, filename, contentType string) error
}

// Browser opens URLs. Open uses a new browsing context, Redirect replaces
// the current location.
type Browser interface {
	Open(ctx context.Context, url string) error
	Redirect(ctx context.Context, url string) error
}
