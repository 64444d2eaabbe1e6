package util

import "reflect"

func IsZero(i interface{}) bool {
	return IsZeroVal(reflect.ValueOf(i))
}

// IsZeroVal works with values of non comparable types too.
func IsZeroVal(v reflect.Value) bool {
	return !v.IsValid() || v.IsZero()
}
