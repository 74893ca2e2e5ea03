package rack

import "reflect"

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// looseEqual compares two normalized field values structurally.
func looseEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
