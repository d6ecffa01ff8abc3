//go:build !linux

package iface

import (
	"runtime"

	"github.com/joshuafuller/ifreply/internal/errors"
)

func newDefault() Resolver { return StdlibResolver{} }

func newPlatform(kind string) (Resolver, error) {
	return nil, &errors.ValidationError{
		Field:   "resolver",
		Value:   kind,
		Message: "not supported on " + runtime.GOOS,
	}
}
