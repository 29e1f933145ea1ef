package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/operations/internal/navigation"
	"github.com/pitabwire/operations/internal/observability"
	"github.com/pitabwire/operations/model"
)

// Navigation actions accepted by POST /v1/navigation.
const (
	navActionPush       = ""
	navActionBackTo     = "backTo"
	navActionBackToRoot = "backToRoot"
	navActionReRun      = "reRun"
)

type navigationRequest struct {
	Action    string            `json:"action,omitempty"`
	Path      string            `json:"path,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Replace   bool              `json:"replace,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

type navigationResponse struct {
	SessionID  string   `json:"sessionId"`
	Breadcrumb []string `json:"breadcrumb"`
	Moved      *bool    `json:"moved,omitempty"`
}

func handleGetNavigation(history navigation.HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		entries, err := history.Load(r.Context(), rctx.SessionID)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		if entries == nil {
			entries = []string{}
		}
		WriteJSON(w, http.StatusOK, navigationResponse{SessionID: rctx.SessionID, Breadcrumb: entries})
	}
}

func handleNavigate(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		var body navigationRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		sess, err := navigation.OpenSession(r.Context(), deps.History, rctx.SessionID)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		defer sess.Close()
		nav := navigation.NewManager(sess, sess,
			navigation.WithHomePath(deps.homePath()),
			navigation.WithLogger(observability.RequestLogger(r.Context(), deps.Logger)),
		)

		var moved *bool
		switch body.Action {
		case navActionPush:
			if body.Path == "" {
				WriteValidationError(w, []model.FieldError{{Field: "path", Code: "required", Message: "path is required"}})
				return
			}
			err = sess.NavigateTo(r.Context(), body.Path, body.Params, body.Replace)
		case navActionBackTo:
			op, ok := deps.registryFor(r).Get(body.Operation)
			if !ok {
				op = &model.OperationDescriptor{ID: body.Operation}
			}
			var m bool
			m, err = nav.BackToOperation(r.Context(), op)
			moved = &m
		case navActionBackToRoot:
			var m bool
			m, err = nav.GoBackToRoot(r.Context())
			moved = &m
		case navActionReRun:
			var m bool
			m, err = nav.ReRun(r.Context())
			moved = &m
		default:
			WriteError(w, model.NewBadRequestError("unknown navigation action "+body.Action))
			return
		}
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		if moved == nil || *moved {
			deps.Metrics.RecordNavigation(navigationKind(body.Action))
		}
		if err := sess.Flush(r.Context()); err != nil {
			writeError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, navigationResponse{
			SessionID:  sess.ID(),
			Breadcrumb: sess.Current(),
			Moved:      moved,
		})
	}
}

func navigationKind(action string) string {
	if action == navActionPush {
		return "push"
	}
	return action
}

// handleClearNavigation ends the session: its breadcrumb and the operations
// registered during it are forgotten.
func handleClearNavigation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		sess, err := navigation.OpenSession(r.Context(), deps.History, rctx.SessionID)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		defer sess.Close()
		if err := deps.History.Delete(r.Context(), rctx.SessionID); err != nil {
			writeError(r.Context(), w, err)
			return
		}
		deps.sessions.drop(rctx.SessionID)
		w.WriteHeader(http.StatusNoContent)
	}
}
