package relay

import "fmt"

// ErrorKind is the three-way taxonomy the Management Core surfaces to
// transport adapters, mirrored 1:1 onto HTTP status / gRPC code by the
// collaborator.
type ErrorKind int

const (
	KindInvalidArgument ErrorKind = iota
	KindNotFound
	KindInternal
)

// CoreError carries a classification alongside the underlying message so
// a transport adapter can type-switch instead of pattern-matching on
// error strings.
type CoreError struct {
	Kind ErrorKind
	Msg  string
}

func (e *CoreError) Error() string { return e.Msg }

func invalidArgument(format string, args ...any) *CoreError {
	return &CoreError{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *CoreError {
	return &CoreError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func internal(format string, args ...any) *CoreError {
	return &CoreError{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}
