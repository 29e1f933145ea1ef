package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/operations/internal/decision"
	"github.com/pitabwire/operations/internal/engine"
	"github.com/pitabwire/operations/internal/idempotency"
	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/internal/request"
	"github.com/pitabwire/operations/model"
)

const maxBodyBytes = 1 << 20

// operationView is a descriptor with its run decision.
type operationView struct {
	*model.OperationDescriptor
	CanRunDirectly bool            `json:"canRunDirectly"`
	Reason         decision.Reason `json:"reason"`
	RunPath        string          `json:"runPath,omitempty"`
}

func viewOf(op *model.OperationDescriptor, strict bool, scopeID string) operationView {
	v := operationView{
		OperationDescriptor: op,
		CanRunDirectly:      decision.CanRunDirectly(op, strict),
		Reason:              decision.Explain(op, strict),
	}
	if p, err := request.RunPath(op, scopeID); err == nil {
		v.RunPath = p
	}
	return v
}

func handleListOperations(deps Dependencies, strict bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := deps.registryFor(r)
		scope := model.Scope(r.URL.Query().Get("scope"))
		if scope != "" && !scope.Valid() {
			WriteError(w, model.NewBadRequestError("unknown scope "+string(scope)))
			return
		}

		ops := reg.All()
		views := make([]operationView, 0, len(ops))
		for _, op := range ops {
			if scope != "" && op.Scope != scope {
				continue
			}
			views = append(views, viewOf(op, strict, ""))
		}
		slices.SortFunc(views, func(a, b operationView) int {
			return strings.Compare(a.Key(), b.Key())
		})
		WriteJSON(w, http.StatusOK, map[string]any{"operations": views, "total": len(views)})
	}
}

func handleGetOperation(deps Dependencies, strict bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, ok := deps.registryFor(r).Get(chi.URLParam(r, "key"))
		if !ok {
			WriteNotFound(w, "operation not found")
			return
		}
		WriteJSON(w, http.StatusOK, viewOf(op, strict, r.URL.Query().Get("scopeId")))
	}
}

// handleRegisterOperation adds a descriptor to the caller's session only.
func handleRegisterOperation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var op model.OperationDescriptor
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&op); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if err := op.Validate(); err != nil {
			WriteError(w, model.NewMalformedOperationError(err.Error()))
			return
		}
		deps.registryFor(r).Register(&op)
		WriteJSON(w, http.StatusCreated, viewOf(&op, true, ""))
	}
}

// runRequest is the body of a run.
type runRequest struct {
	ScopeID        string            `json:"scopeId,omitempty"`
	FormParameters map[string]string `json:"formParameters,omitempty"`
	// Confirm answers a plain confirmation dialog.
	Confirm bool `json:"confirm,omitempty"`
	// Credential answers a password or device confirmation.
	Credential *model.Credential `json:"credential,omitempty"`
}

// runResponse is the engine report plus the effects recorded for the caller.
type runResponse struct {
	engine.Report
	Notifications []Notification `json:"notifications,omitempty"`
	Files         []File         `json:"files,omitempty"`
	URLs          []URLEffect    `json:"urls,omitempty"`
	Breadcrumb    []string       `json:"breadcrumb"`
}

func handleRunOperation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		reg := deps.registryFor(r)
		op, ok := reg.Get(chi.URLParam(r, "key"))
		if !ok {
			WriteNotFound(w, "operation not found")
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			WriteError(w, model.NewBadRequestError("request body too large"))
			return
		}
		var body runRequest
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				WriteError(w, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}

		// Step 1: an Idempotency-Key is reserved before anything runs. A
		// repeated key replays the stored response.
		var idemKey, idemHash string
		if clientKey := r.Header.Get(idempotency.Header); clientKey != "" && deps.Idempotency != nil {
			idemKey = idempotency.Key(rctx.SessionID, op.Key(), clientKey)
			idemHash = idempotency.Hash(raw)
			cached, err := deps.Idempotency.Reserve(r.Context(), idemKey, idemHash)
			if err != nil {
				writeError(r.Context(), w, err)
				return
			}
			if cached != nil {
				w.Header().Set(idempotency.ReplayedHeader, "true")
				writeRawJSON(w, cached.Status, cached.Body)
				return
			}
		}
		completed := false
		defer func() {
			if idemKey == "" || completed {
				return
			}
			if err := deps.Idempotency.Release(context.WithoutCancel(r.Context()), idemKey, idemHash); err != nil {
				observability.LoggerFrom(r.Context(), deps.Logger).Warn("failed to release idempotency key",
					zap.String("idempotency_key", idemKey),
					zap.Error(err),
				)
			}
		}()

		sess, err := navigation.OpenSession(r.Context(), deps.History, rctx.SessionID)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		defer sess.Close()

		prompter := requestPrompter{confirmed: body.Confirm}
		if body.Credential != nil {
			prompter.credential = *body.Credential
		}
		effects := &effectRecorder{}
		eng := engine.New(reg, deps.Transport, engine.Collaborators{
			Prompter:   prompter,
			Notifier:   effects,
			Files:      effects,
			Browser:    effects,
			Breadcrumb: sess,
			Router:     sess,
		}, deps.engineOptions()...)

		report, runErr := eng.Run(r.Context(), op, body.ScopeID, body.FormParameters)

		// Navigation applied before a failure is still persisted.
		if err := sess.Flush(r.Context()); err != nil {
			observability.LoggerFrom(r.Context(), deps.Logger).Warn("failed to save navigation history",
				zap.String("session_id", sess.ID()),
				zap.Error(err),
			)
		}
		if runErr != nil {
			writeError(r.Context(), w, runErr)
			return
		}

		resp := runResponse{Report: report, Breadcrumb: sess.Current()}
		resp.Notifications, resp.Files, resp.URLs = effects.effects()
		if idemKey == "" {
			WriteJSON(w, http.StatusOK, resp)
			return
		}

		// Step 2: only completed runs are stored for replay.
		encoded, err := json.Marshal(resp)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		stored := idempotency.Response{Status: http.StatusOK, Body: encoded}
		if err := deps.Idempotency.Complete(context.WithoutCancel(r.Context()), idemKey, idemHash, stored, deps.idempotencyTTL()); err != nil {
			observability.LoggerFrom(r.Context(), deps.Logger).Warn("failed to store idempotent response",
				zap.String("idempotency_key", idemKey),
				zap.Error(err),
			)
		} else {
			completed = true
		}
		writeRawJSON(w, http.StatusOK, encoded)
	}
}

// pageRequest asks for one page of a result-page operation.
type pageRequest struct {
	ScopeID        string            `json:"scopeId,omitempty"`
	FormParameters map[string]string `json:"formParameters,omitempty"`
	Page           int               `json:"page"`
	PageSize       int               `json:"pageSize"`
	ExportFormat   string            `json:"exportFormat,omitempty"`
}

func handleFetchPage(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg := deps.registryFor(r)
		op, ok := reg.Get(chi.URLParam(r, "key"))
		if !ok {
			WriteNotFound(w, "operation not found")
			return
		}
		var body pageRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Page < 0 || body.PageSize < 0 {
			WriteValidationError(w, []model.FieldError{{Field: "page", Code: "range", Message: "page and pageSize must not be negative"}})
			return
		}

		opts := request.Options{
			ScopeID:        body.ScopeID,
			FormParameters: body.FormParameters,
			ExportFormat:   body.ExportFormat,
		}
		if body.PageSize > 0 {
			opts.Page = &request.PageData{Page: body.Page, PageSize: body.PageSize}
		}

		// Paging never confirms or navigates: the collaborators are inert.
		eng := engine.New(reg, deps.Transport, engine.Collaborators{}, deps.engineOptions()...)
		outcome, err := eng.RunRequest(r.Context(), op, opts)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}

		switch o := outcome.(type) {
		case model.JSONOutcome:
			WriteJSON(w, http.StatusOK, o.Result)
		case model.BinaryOutcome:
			WriteJSON(w, http.StatusOK, fileOf(o.Blob, o.Filename, o.ContentType))
		default:
			writeError(r.Context(), w, errors.New("transport: unexpected outcome"))
		}
	}
}
