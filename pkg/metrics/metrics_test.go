package metrics

import "testing"

func TestRegister_NoPanic(t *testing.T) {
	Register()
	Register() // idempotent: re-registering the same collectors must not panic
}
