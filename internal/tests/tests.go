// Package tests holds small shared test helpers used across this
// module's package-level _test.go files.
package tests

import (
	"reflect"
	"testing"
)

// AssertEqual fails the test, printing both values, if want != got.
func AssertEqual(t *testing.T, want, got interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("want %#v, got %#v", want, got)
	}
}
