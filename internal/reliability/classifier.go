package reliability

import (
	"errors"

	"github.com/antoniostano/aura/internal/scene"
)

// Connection error kinds surfaced to application state. All are recoverable
// by retrying the connect flow.
const (
	ErrKindPermissionsDenied = "permissionsDenied"
	ErrKindTokenFetch        = "tokenFetch"
	ErrKindGeneric           = "generic"
)

// ClassifyConnectError maps a connect failure to its user-facing kind:
// camera/mic denial or unsupported devices vs everything else.
func ClassifyConnectError(err error) string {
	if errors.Is(err, scene.ErrNoUserMedia) || errors.Is(err, scene.ErrNotSupported) {
		return ErrKindPermissionsDenied
	}
	return ErrKindGeneric
}
