package config

import "fmt"

// ErrorKind classifies configuration failures.
type ErrorKind int

const (
	// KindParse marks a document that could not be read or parsed.
	KindParse ErrorKind = iota
	// KindMissing marks a required key that is absent.
	KindMissing
	// KindType marks a value whose type contradicts the declared schema.
	KindType
	// KindCycle marks a cyclic inheritance chain.
	KindCycle
	// KindInvalid marks a structurally invalid construct, such as a module
	// reference without a type name.
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindMissing:
		return "missing"
	case KindType:
		return "type"
	case KindCycle:
		return "cycle"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ConfigError is the single error type for everything that can go wrong
// before a run starts on the configuration side. It is always fatal.
type ConfigError struct {
	Kind ErrorKind
	// Path locates the offending key in the tree, dot-separated.
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	where := ""
	if e.Path != "" {
		where = fmt.Sprintf(" at %q", e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("config %s error%s: %s: %v", e.Kind, where, e.Msg, e.Err)
	}
	return fmt.Sprintf("config %s error%s: %s", e.Kind, where, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func errMissing(path, msg string) *ConfigError {
	return &ConfigError{Kind: KindMissing, Path: path, Msg: msg}
}

func errType(path, msg string) *ConfigError {
	return &ConfigError{Kind: KindType, Path: path, Msg: msg}
}
