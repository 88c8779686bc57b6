package ir

import "fmt"

// CompilationErrorKind enumerates the CompilationError subkinds. Compilation
// errors are non-recoverable for the fingerprint that produced them; callers
// may retry with different capabilities.
type CompilationErrorKind int

const (
	VerificationFailed CompilationErrorKind = iota
	UnsupportedOpcode
	UnsupportedCapability
	LoweringFailed
	BackendInternal
)

func (k CompilationErrorKind) String() string {
	switch k {
	case VerificationFailed:
		return "VerificationFailed"
	case UnsupportedOpcode:
		return "UnsupportedOpcode"
	case UnsupportedCapability:
		return "UnsupportedCapability"
	case LoweringFailed:
		return "LoweringFailed"
	case BackendInternal:
		return "BackendInternal"
	default:
		return "Unknown"
	}
}

// CompilationError is the error type every pass and backend returns on
// failure. It always names the failing component (Pass or Backend) and,
// when known, the offending Value.
type CompilationError struct {
	Kind    CompilationErrorKind
	Pass    string // pass or backend name that raised this
	ValueID ValueID
	HasValueID bool
	Detail  string
}

func (e *CompilationError) Error() string {
	if e.HasValueID {
		return fmt.Sprintf("%s: %s: value %%%d: %s", e.Pass, e.Kind, e.ValueID, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pass, e.Kind, e.Detail)
}

// Is supports errors.Is(err, &ir.CompilationError{Kind: ir.VerificationFailed})
// style checks by comparing kinds when the target is also a *CompilationError.
func (e *CompilationError) Is(target error) bool {
	t, ok := target.(*CompilationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewVerificationError builds a VerificationFailed error naming the
// offending value, so a caller can locate the failure without re-running
// the verifier.
func NewVerificationError(pass string, v *Value, detail string) *CompilationError {
	e := &CompilationError{Kind: VerificationFailed, Pass: pass, Detail: detail}
	if v != nil {
		e.ValueID = v.ID
		e.HasValueID = true
	}
	return e
}

// NewUnsupportedOpcodeError builds an UnsupportedOpcode error for a backend
// that cannot lower v.Op.
func NewUnsupportedOpcodeError(backend string, v *Value) *CompilationError {
	return &CompilationError{
		Kind: UnsupportedOpcode, Pass: backend,
		ValueID: v.ID, HasValueID: true,
		Detail: fmt.Sprintf("opcode %s not supported", v.Op),
	}
}

// NewUnsupportedCapabilityError builds an UnsupportedCapability error when a
// target's capability descriptor cannot satisfy an IR construct.
func NewUnsupportedCapabilityError(backend, detail string) *CompilationError {
	return &CompilationError{Kind: UnsupportedCapability, Pass: backend, Detail: detail}
}

// NewLoweringError builds a LoweringFailed error for backend lowering
// failures that are not capability-related.
func NewLoweringError(backend, detail string) *CompilationError {
	return &CompilationError{Kind: LoweringFailed, Pass: backend, Detail: detail}
}
