package errors

import "fmt"

// TestfileNotFoundError is returned when no testfile was found at the given
// path.
type TestfileNotFoundError struct {
	URI string
}

func (err *TestfileNotFoundError) Error() string {
	return fmt.Sprintf(`consoletest: No testfile found at %q`, err.URI)
}

func (err *TestfileNotFoundError) Code() int {
	return CodeTestfileNotFound
}

// TestfileInvalidError is returned when a testfile could not be decoded.
type TestfileInvalidError struct {
	URI string
	Err error
}

func (err *TestfileInvalidError) Error() string {
	return fmt.Sprintf("consoletest: Failed to parse %s:\n%v", err.URI, err.Err)
}

func (err *TestfileInvalidError) Code() int {
	return CodeTestfileInvalid
}

func (err *TestfileInvalidError) Unwrap() error {
	return err.Err
}
