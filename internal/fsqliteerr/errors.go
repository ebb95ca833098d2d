// Package fsqliteerr defines the single error-kind hierarchy shared by every
// core subsystem (pager, WAL, b-tree, MVCC, VDBE), so callers can branch on
// Kind without parsing messages. A few errors are still plain fmt.Errorf
// values (SQL parse errors, planner column resolution, the schema row
// decoder, unresolved VDBE labels); Is reports false for those.
package fsqliteerr

import "fmt"

// Kind mirrors the SQLite primary result codes relevant to an embedded core.
type Kind int

const (
	Ok Kind = iota
	Busy
	Locked
	ReadOnly
	Corrupt
	Full
	Constraint
	MismatchType
	Misuse
	NoMem
	IoErr
	SchemaChanged
	QueryReturnedNoRows
	Interrupted
	Internal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case Busy:
		return "Busy"
	case Locked:
		return "Locked"
	case ReadOnly:
		return "ReadOnly"
	case Corrupt:
		return "Corrupt"
	case Full:
		return "Full"
	case Constraint:
		return "Constraint"
	case MismatchType:
		return "MismatchType"
	case Misuse:
		return "Misuse"
	case NoMem:
		return "NoMem"
	case IoErr:
		return "IoErr"
	case SchemaChanged:
		return "SchemaChanged"
	case QueryReturnedNoRows:
		return "QueryReturnedNoRows"
	case Interrupted:
		return "Interrupted"
	default:
		return "Internal"
	}
}

// ConstraintKind refines a Constraint error.
type ConstraintKind int

const (
	ConstraintNone ConstraintKind = iota
	ConstraintUnique
	ConstraintNotNull
	ConstraintForeignKey
	ConstraintCheck
	ConstraintPrimaryKey
)

func (c ConstraintKind) String() string {
	switch c {
	case ConstraintUnique:
		return "UNIQUE"
	case ConstraintNotNull:
		return "NOTNULL"
	case ConstraintForeignKey:
		return "FK"
	case ConstraintCheck:
		return "CHECK"
	case ConstraintPrimaryKey:
		return "PRIMARYKEY"
	default:
		return "NONE"
	}
}

// IoSubcode distinguishes VFS failure sites, mirroring SQLite's extended
// IOERR codes closely enough for tests to assert on a specific site.
type IoSubcode int

const (
	IoNone IoSubcode = iota
	IoRead
	IoWrite
	IoFsync
	IoTruncate
	IoShortRead
	IoShmMap
	IoShmLock
	IoLock
	IoUnlock
)

// Error is the concrete error type returned at every core API boundary.
type Error struct {
	Kind       Kind
	Constraint ConstraintKind
	IoSub      IoSubcode
	Msg        string
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case Constraint:
		return fmt.Sprintf("constraint(%s): %s", e.Constraint, e.Msg)
	case IoErr:
		return fmt.Sprintf("ioerr(%d): %s", e.IoSub, e.Msg)
	default:
		if e.Msg == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error of the given kind with a message.
func New(k Kind, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// Wrap attaches Kind/cause to an underlying error, preserving it for Unwrap.
func Wrap(k Kind, cause error, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...), Cause: cause}
}

// NewConstraint builds a Constraint error of the given sub-kind.
func NewConstraint(c ConstraintKind, format string, a ...any) *Error {
	return &Error{Kind: Constraint, Constraint: c, Msg: fmt.Sprintf(format, a...)}
}

// NewIoErr builds an IoErr error tagged with the failing VFS operation.
func NewIoErr(sub IoSubcode, cause error, format string, a ...any) *Error {
	return &Error{Kind: IoErr, IoSub: sub, Msg: fmt.Sprintf(format, a...), Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
