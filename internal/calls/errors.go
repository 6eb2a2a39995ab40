package calls

import "errors"

var (
	ErrBusy                 = errors.New("calls: participant already in a call")
	ErrNotFound             = errors.New("calls: call not found")
	ErrUnauthorized         = errors.New("calls: actor not allowed")
	ErrInvalidStatus        = errors.New("calls: invalid call status")
	ErrCredentialGeneration = errors.New("calls: credential generation failed")
	ErrInvalidArgument      = errors.New("calls: invalid argument")

	// ErrStaleStatus is returned by Repository.UpdateStatus when the stored status
	// no longer matches the expected one.
	ErrStaleStatus = errors.New("calls: status changed concurrently")
)

// Code maps an error to the stable machine-readable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "call_not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrStaleStatus):
		return "invalid_status"
	case errors.Is(err, ErrCredentialGeneration):
		return "credential_generation_failed"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "service_error"
	}
}
