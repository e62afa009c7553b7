package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrNotFound is returned by lookups (unknown method id, unresolved method
// identity, call path missing from a tree) that callers are expected to recover from.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous is returned when a lookup matches several candidates and
// there is no information left to pick one of them.
var ErrAmbiguous = errors.New("ambiguous match")

// ErrContractViolation marks misuse of the capture protocol, like leaving a
// method that was never entered.
var ErrContractViolation = errors.New("contract violation")
