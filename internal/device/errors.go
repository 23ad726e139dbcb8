package device

import "fmt"

// Reason classifies why a path failed device validation.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonNotWritable Reason = "not_writable"
	ReasonWrongLayout Reason = "wrong_layout"
)

// InvalidDeviceError reports a path that is not a usable KOReader
// installation, with a machine-readable reason for the UI.
type InvalidDeviceError struct {
	Path   string
	Reason Reason
	Cause  error
}

func (e *InvalidDeviceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid device at %s (%s): %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid device at %s (%s)", e.Path, e.Reason)
}

func (e *InvalidDeviceError) Unwrap() error {
	return e.Cause
}
