// Package xlog is a small logging backend over gopkg.in/op/go-logging.v1.
// It exists because the teacher repository's own core/log package (which
// every other package obtains a *logging.Logger from via
// backend.GetLogger(name)) was not part of the retrieval pack used to
// build this module; the same shape is recreated here so call sites read
// exactly like the rest of the corpus.
package xlog

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// Backend owns a single op/go-logging backend and hands out tagged
// *logging.Logger instances.
type Backend struct {
	base logging.LeveledBackend
}

// New creates a Backend writing to stderr at the given level ("DEBUG",
// "INFO", "WARNING", "ERROR", "CRITICAL"). An empty level defaults to
// "NOTICE", matching op/go-logging's own default.
func New(level string) (*Backend, error) {
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
	)
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatted := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatted)

	lvl := logging.NOTICE
	if level != "" {
		parsed, err := logging.LogLevel(level)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	leveled.SetLevel(lvl, "")
	return &Backend{base: leveled}, nil
}

// GetLogger returns a module-tagged logger backed by this Backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	log := logging.MustGetLogger(module)
	log.SetBackend(b.base)
	return log
}

// nopBackend is used when callers do not wish to configure logging (e.g.
// in unit tests); it discards everything below CRITICAL.
var nopBackend *Backend

// Nop returns a Backend whose loggers are silent, useful as a default when
// no Backend is supplied to a constructor.
func Nop() *Backend {
	if nopBackend != nil {
		return nopBackend
	}
	b, err := New("CRITICAL")
	if err != nil {
		panic(err)
	}
	nopBackend = b
	return nopBackend
}
