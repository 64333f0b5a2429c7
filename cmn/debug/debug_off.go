//go:build !debug

// Package debug provides build-tag gated invariant assertions for the
// channel/transport/operation ownership graph. Built without the "debug"
// tag, every call is a no-op so the checks cost nothing in release builds.
package debug

func ON() bool { return false }

func Infof(_ string, _ ...any) {}

func Func(_ func()) {}

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
