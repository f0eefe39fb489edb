package registration

import "errors"

// Error kinds surfaced by the intake core. Callers wrap these with context
// and match them with errors.Is.
//
//   - ErrValidation: a required key field is missing (today only the phone number)
//   - ErrStorage: the workbook or another persistence sink rejected a write or read
//   - ErrConfig: persisted settings or counter state could not be parsed
var (
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage unavailable")
	ErrConfig     = errors.New("invalid configuration")
)
