package model

import (
	"errors"
	"fmt"
)

// ErrMalformedDescriptor is wrapped by every error caused by an operation
// descriptor carrying values outside the closed enumerations.
var ErrMalformedDescriptor = errors.New("malformed operation descriptor")

// Scope determines which entity context an operation runs against and
// therefore which endpoint family is used to reach it.
type Scope string

const (
	ScopeUser          Scope = "user"
	ScopeSystem        Scope = "system"
	ScopeInternal      Scope = "internal"
	ScopeMenu          Scope = "menu"
	ScopeAdvertisement Scope = "advertisement"
	ScopeRecord        Scope = "record"
	ScopeTransfer      Scope = "transfer"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeSystem, ScopeInternal, ScopeMenu,
		ScopeAdvertisement, ScopeRecord, ScopeTransfer:
		return true
	}
	return false
}

// ResultType describes what an operation returns.
type ResultType string

const (
	ResultNotification     ResultType = "notification"
	ResultFileDownload     ResultType = "fileDownload"
	ResultURL              ResultType = "url"
	ResultExternalRedirect ResultType = "externalRedirect"
	ResultPage             ResultType = "resultPage"
	ResultPlainText        ResultType = "plainText"
	ResultRichText         ResultType = "richText"
)

// Valid reports whether r is one of the known result types.
func (r ResultType) Valid() bool {
	switch r {
	case ResultNotification, ResultFileDownload, ResultURL, ResultExternalRedirect,
		ResultPage, ResultPlainText, ResultRichText:
		return true
	}
	return false
}

// DirectRunEligible reports whether a result of this type can be presented
// without a dedicated result screen.
func (r ResultType) DirectRunEligible() bool {
	switch r {
	case ResultNotification, ResultFileDownload, ResultURL, ResultExternalRedirect:
		return true
	case ResultPage, ResultPlainText, ResultRichText:
		return false
	}
	return false
}

// ShowForm is the server-provided policy on when the parameter form must be
// shown. The zero value means the server did not specify a policy.
type ShowForm string

const (
	ShowFormUnset           ShowForm = ""
	ShowFormAlways          ShowForm = "always"
	ShowFormMissingRequired ShowForm = "missingRequired"
	ShowFormMissingAny      ShowForm = "missingAny"
)

// Valid reports whether f is a known policy or unset.
func (f ShowForm) Valid() bool {
	switch f {
	case ShowFormUnset, ShowFormAlways, ShowFormMissingRequired, ShowFormMissingAny:
		return true
	}
	return false
}

// NotificationLevel selects the notification channel for a notification result.
type NotificationLevel string

const (
	LevelInformation NotificationLevel = "information"
	LevelWarning     NotificationLevel = "warning"
	LevelError       NotificationLevel = "error"
)

// OperationDescriptor is the server-provided metadata about a custom operation.
type OperationDescriptor struct {
	ID                          string     `json:"id" yaml:"id"`
	InternalName                string     `json:"internalName,omitempty" yaml:"internalName,omitempty"`
	Name                        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Label                       string     `json:"label,omitempty" yaml:"label,omitempty"`
	Scope                       Scope      `json:"scope" yaml:"scope"`
	ResultType                  ResultType `json:"resultType" yaml:"resultType"`
	RequireConfirmationPassword bool       `json:"requireConfirmationPassword,omitempty" yaml:"requireConfirmationPassword,omitempty"`
	ConfirmationText            string     `json:"confirmationText,omitempty" yaml:"confirmationText,omitempty"`
	MissingRequiredParameters   []string   `json:"missingRequiredParameters,omitempty" yaml:"missingRequiredParameters,omitempty"`
	MissingOptionalParameters   []string   `json:"missingOptionalParameters,omitempty" yaml:"missingOptionalParameters,omitempty"`
	HasFileUpload               bool       `json:"hasFileUpload,omitempty" yaml:"hasFileUpload,omitempty"`
	SubmitWithQrCodeScan        bool       `json:"submitWithQrCodeScan,omitempty" yaml:"submitWithQrCodeScan,omitempty"`
	ShowForm                    ShowForm   `json:"showForm,omitempty" yaml:"showForm,omitempty"`
	SearchAutomatically         bool       `json:"searchAutomatically,omitempty" yaml:"searchAutomatically,omitempty"`
	AllowExport                 bool       `json:"allowExport,omitempty" yaml:"allowExport,omitempty"`
	ExportFormats               []string   `json:"exportFormats,omitempty" yaml:"exportFormats,omitempty"`
}

// Key returns the identifier used when addressing the operation on the
// server: the internal name when present, the id otherwise.
func (o *OperationDescriptor) Key() string {
	if o.InternalName != "" {
		return o.InternalName
	}
	return o.ID
}

// DisplayName returns the first non-empty of label, name, internal name and id.
func (o *OperationDescriptor) DisplayName() string {
	for _, s := range []string{o.Label, o.Name, o.InternalName, o.ID} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Matches reports whether key equals the operation id or internal name.
func (o *OperationDescriptor) Matches(key string) bool {
	if key == "" {
		return false
	}
	return key == o.ID || key == o.InternalName
}

// Validate checks the descriptor's enumerations. The returned error wraps
// ErrMalformedDescriptor.
func (o *OperationDescriptor) Validate() error {
	var errs []error
	if o.ID == "" && o.InternalName == "" {
		errs = append(errs, errors.New("id or internalName is required"))
	}
	if !o.Scope.Valid() {
		errs = append(errs, fmt.Errorf("unknown scope %q", o.Scope))
	}
	if !o.ResultType.Valid() {
		errs = append(errs, fmt.Errorf("unknown result type %q", o.ResultType))
	}
	if !o.ShowForm.Valid() {
		errs = append(errs, fmt.Errorf("unknown showForm %q", o.ShowForm))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrMalformedDescriptor, o.Key(), errors.Join(errs...))
	}
	return nil
}

// CredentialKind is the kind of credential a confirmation asks for.
type CredentialKind string

const (
	CredentialPassword CredentialKind = "password"
	CredentialDevice   CredentialKind = "device"
)

// ConfirmationPasswordSpec describes the credential the server expects when
// confirming a run.
type ConfirmationPasswordSpec struct {
	Kind            CredentialKind `json:"kind,omitempty"`
	Name            string         `json:"name,omitempty"`
	Description     string         `json:"description,omitempty"`
	DeviceAvailable bool           `json:"deviceAvailable,omitempty"`
}

// RunData is the data-for-run payload: the full descriptor plus the
// confirmation credential specification.
type RunData struct {
	OperationDescriptor
	ConfirmationPasswordInput *ConfirmationPasswordSpec `json:"confirmationPasswordInput,omitempty"`
}

// PasswordRequired reports whether the server actually requires a credential.
func (d RunData) PasswordRequired() bool {
	return d.ConfirmationPasswordInput != nil && d.ConfirmationPasswordInput.Kind != ""
}
