package request

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pitabwire/operations/model"
)

// OperationsPathPrefix prefixes every run-screen path.
const OperationsPathPrefix = "/operations/"

// RunPath returns the path of the screen on which op's parameter form is
// shown for the given scope id.
func RunPath(op *model.OperationDescriptor, scopeID string) (string, error) {
	if op == nil {
		return "", fmt.Errorf("request: nil operation")
	}
	key := url.PathEscape(op.Key())
	id := url.PathEscape(scopeID)

	switch op.Scope {
	case model.ScopeSystem:
		return OperationsPathPrefix + "system/" + key, nil
	case model.ScopeInternal:
		return OperationsPathPrefix + "action/" + key, nil
	case model.ScopeUser:
		if id == "" {
			id = SelfOwner
		}
		return OperationsPathPrefix + "user/" + id + "/" + key, nil
	case model.ScopeAdvertisement:
		return scopedPath("marketplace", id, key, op)
	case model.ScopeRecord:
		return scopedPath("record", id, key, op)
	case model.ScopeTransfer:
		return scopedPath("transfer", id, key, op)
	case model.ScopeMenu:
		return scopedPath("menu", id, key, op)
	}
	return "", fmt.Errorf("request: %w: unknown scope %q", model.ErrMalformedDescriptor, op.Scope)
}

func scopedPath(segment, id, key string, op *model.OperationDescriptor) (string, error) {
	if id == "" {
		return "", model.NewBadRequestError(fmt.Sprintf("operation %s requires a %s scope id", op.Key(), op.Scope))
	}
	return OperationsPathPrefix + segment + "/" + id + "/" + key, nil
}

// IsOperationPath reports whether p is a run-screen path.
func IsOperationPath(p string) bool {
	return strings.HasPrefix(p, OperationsPathPrefix)
}

// MatchesOperation reports whether p is a run-screen path whose last segment
// is op's id or internal name.
func MatchesOperation(p string, op *model.OperationDescriptor) bool {
	if op == nil || !IsOperationPath(p) {
		return false
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSuffix(p, "/")
	last := p[strings.LastIndex(p, "/")+1:]
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}
	return op.Matches(last)
}
