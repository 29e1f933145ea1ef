// Package decision decides whether an operation can run without showing its
// parameter form first.
package decision

import "github.com/pitabwire/operations/model"

// Reason explains a CanRunDirectly decision.
type Reason string

const (
	ReasonDirect            Reason = "direct"
	ReasonNilOperation      Reason = "nil_operation"
	ReasonHostPageType      Reason = "result_needs_own_screen"
	ReasonInteractiveInput  Reason = "interactive_input"
	ReasonNoAutoSearch      Reason = "result_page_without_auto_search"
	ReasonFormAlways        Reason = "form_always_shown"
	ReasonMissingRequired   Reason = "missing_required_parameters"
	ReasonMissingParameters Reason = "missing_parameters"
	ReasonUnknownShowForm   Reason = "unknown_show_form"
)

// CanRunDirectly reports whether op can be executed immediately. When
// restrictToHostPageTypes is set only results that need no result screen
// of their own qualify.
func CanRunDirectly(op *model.OperationDescriptor, restrictToHostPageTypes bool) bool {
	return Explain(op, restrictToHostPageTypes) == ReasonDirect
}

// Explain returns the reason behind the CanRunDirectly decision.
func Explain(op *model.OperationDescriptor, restrictToHostPageTypes bool) Reason {
	if op == nil {
		return ReasonNilOperation
	}

	// Step 1: results that need their own screen.
	if restrictToHostPageTypes && !op.ResultType.DirectRunEligible() {
		return ReasonHostPageType
	}

	// Step 2: inputs only the form can collect.
	if op.SubmitWithQrCodeScan || op.HasFileUpload {
		return ReasonInteractiveInput
	}

	// Step 3: result pages run directly only when they search automatically.
	if op.ResultType == model.ResultPage {
		if op.SearchAutomatically {
			return ReasonDirect
		}
		return ReasonNoAutoSearch
	}

	// Step 4: the server's form policy.
	switch op.ShowForm {
	case model.ShowFormAlways:
		return ReasonFormAlways
	case model.ShowFormMissingRequired:
		if len(op.MissingRequiredParameters) == 0 {
			return ReasonDirect
		}
		return ReasonMissingRequired
	case model.ShowFormMissingAny, model.ShowFormUnset:
		if len(op.MissingRequiredParameters) == 0 && len(op.MissingOptionalParameters) == 0 {
			return ReasonDirect
		}
		return ReasonMissingParameters
	}
	return ReasonUnknownShowForm
}
