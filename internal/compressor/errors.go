package compressor

import "fmt"

// ValidationError is returned when the source file or the config cannot be used.
// No artifact has been created when it is returned.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CompressionError is returned when decoding, encoding or writing the output fails.
type CompressionError struct {
	Path string
	Op   string
	Err  error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compress %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *CompressionError) Unwrap() error { return e.Err }
