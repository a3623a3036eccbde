package kernel

// Error describes a kernel error. Kernel errors are defined as package-level
// pointers to the Error structure and are compared by identity; code that
// runs inside trap handlers can return them without allocating.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error prefixed by the module that raised it.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
