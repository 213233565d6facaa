package meter

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every error returned from Decode.
var ErrDecode = errors.New("meter: decode failed")

// Reasons carried by DecodeError.
var (
	// ErrMissingField means a required key is absent or null.
	ErrMissingField = errors.New("missing required field")

	// ErrFieldType means a key is present with the wrong JSON type.
	ErrFieldType = errors.New("wrong field type")

	// ErrMalformed means the payload is not a JSON object.
	ErrMalformed = errors.New("malformed payload")
)

// DecodeError describes why a payload could not be decoded into a Reading.
//
//	var de *meter.DecodeError
//	if errors.As(err, &de) {
//	    log.Warn("bad payload", "field", de.Field)
//	}
type DecodeError struct {
	// Field is the dotted path of the offending key, e.g. "ENERGY.Total".
	// Empty for malformed payloads.
	Field string

	// Err is one of ErrMissingField, ErrFieldType or ErrMalformed, possibly
	// wrapping the underlying encoding/json error.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Field, e.Err)
}

// Unwrap exposes both ErrDecode and the reason.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
