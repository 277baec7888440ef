package assert

import "fmt"

// NotNil panics when value is nil. Typed nil pointers stored in an interface
// are not detected.
func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
}

func NotEmptyStr(str string) {
	if str == "" {
		panic("expected string to be non-empty")
	}
}

func NonNegative[T ~int | ~int64 | ~float64](value T) {
	if value < 0 {
		panic(fmt.Sprintf("expected value to be non-negative, got %v", value))
	}
}
