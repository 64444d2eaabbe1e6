package util

import "github.com/pkg/errors"

// Unwrap returns error cause. Both stackerr errors (Underlying) and
// github.com/pkg/errors errors (Cause) are unwrapped.
func Unwrap(err error) error {
	type hasUnderlying interface {
		Underlying() error
	}
	for {
		if eh, ok := err.(hasUnderlying); ok {
			err = eh.Underlying()
			continue
		}
		cause := errors.Cause(err)
		if cause == err {
			return err
		}
		err = cause
	}
}
