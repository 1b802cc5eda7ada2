package certherd

import (
	"log/slog"
	"os"

	phuslog "github.com/phuslu/log"

	"github.com/caasmo/certherd/cache/ristretto"
	"github.com/caasmo/certherd/core"
	"github.com/caasmo/certherd/crypto"
	"github.com/caasmo/certherd/router/httprouter"
	"github.com/caasmo/certherd/router/servemux"
)

func WithRouterServeMux() core.Option {
	return core.WithRouter(servemux.New())
}

func WithRouterHttprouter() core.Option {
	return core.WithRouter(httprouter.New())
}

// WithCacheRistretto wires the in-process cache used for hot certificate
// records and miss blocking. size is one of the named ristretto sizes.
func WithCacheRistretto(size string) core.Option {
	c, err := ristretto.New[any](size)
	if err != nil {
		slog.Error("cannot create ristretto cache", "size", size, "error", err)
		os.Exit(1)
	}
	return core.WithCache(c)
}

// WithAgeEncryptor encrypts private keys at rest with the age identity
// file at keyPath.
func WithAgeEncryptor(keyPath string) core.Option {
	enc, err := crypto.NewAgeEncryptor(keyPath)
	if err != nil {
		slog.Error("cannot load age key", "path", keyPath, "error", err)
		os.Exit(1)
	}
	return core.WithEncryptor(enc)
}

// DefaultLoggerOptions provides default settings for slog handlers.
// Level: Debug, removes the time attribute from output.
var DefaultLoggerOptions = &slog.HandlerOptions{
	Level: slog.LevelDebug,
	ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	},
}

// WithPhusLogger configures slog with phuslu/log's JSON handler. Uses
// DefaultLoggerOptions if opts is nil.
func WithPhusLogger(opts *slog.HandlerOptions) core.Option {
	if opts == nil {
		opts = DefaultLoggerOptions
	}
	return core.WithLogger(slog.New(phuslog.SlogNewJSONHandler(os.Stderr, opts)))
}

// WithTextLogger configures slog with the standard library's text handler.
func WithTextLogger(opts *slog.HandlerOptions) core.Option {
	if opts == nil {
		opts = DefaultLoggerOptions
	}
	return core.WithLogger(slog.New(slog.NewTextHandler(os.Stdout, opts)))
}
