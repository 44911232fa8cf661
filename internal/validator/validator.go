// Package validator checks that constructor dependencies are set.
package validator

import (
	"fmt"
	"reflect"
)

// Validate returns an error naming the component if any dependency is nil
// or, for scalar settings such as names and sizes, holds its zero value.
// Struct values are always considered set.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required deps for component: %s (dependency %d)", name, i)
		}
	}

	return nil
}

func missing(dep any) bool {
	if dep == nil {
		return true
	}

	v := reflect.ValueOf(dep)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	case reflect.Struct:
		return false
	default:
		return v.IsZero()
	}
}
