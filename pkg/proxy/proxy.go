// Package proxy is the public API for embedding ipinproxy in a larger
// program. It re-exports the runtime package, which carries the
// implementation.
package proxy

import (
	"github.com/syaikhipin/ipinproxy/internal/runtime"
)

// Gateway runs the proxy: HTTP listener, routing snapshots, storage.
type Gateway = runtime.Gateway

// Option configures a Gateway during New.
type Option = runtime.Option

// New builds a Gateway from the given options.
//
//	gw, err := proxy.New(
//	    proxy.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

var (
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile
	WithLogger     = runtime.WithLogger
	WithStore      = runtime.WithStore
)
