/**
 * Copyright (c) 2026, nmeabus contributors.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package catalog is the capability object spec.md §6 and §9 describe as the
// process-wide logging/catgets collaborator, injected at startup rather than
// reached for as a global. It wraps logrus the way this tree's other
// command-line entry points do.
package catalog

import "github.com/sirupsen/logrus"

// Logger stands in for logerr/logwarn/DEBUG/DEBUG2. Message text is built
// with fmt-style formatting rather than routed through an external message
// catalog; Catalog is the seam where catgets-style localization would plug
// in without touching call sites.
type Logger struct {
	entry *logrus.Entry
}

// New wraps l (or logrus.StandardLogger() if l is nil) as a Logger.
func New(l *logrus.Logger) *Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a Logger with additional structured fields attached, mirroring
// how every interface in the source tags its log lines with its own name/id.
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Errf logs a fatal-for-the-interface condition (logerr).
func (l *Logger) Errf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

// Warnf logs a non-fatal condition (logwarn), e.g. a tuning option that
// failed to apply.
func (l *Logger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

// Debugf logs verbose tracing (DEBUG).
func (l *Logger) Debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

// Debug2f logs the noisiest tracing tier (DEBUG2): per-record I/O.
func (l *Logger) Debug2f(format string, args ...any) {
	l.entry.Tracef(format, args...)
}

// Catalog is the injected message-catalog capability (catgets). The default
// implementation is the identity function; a host that needs localized
// messages supplies its own.
type Catalog interface {
	Get(key string) string
}

// IdentityCatalog returns key unchanged; it is the default Catalog.
type IdentityCatalog struct{}

// Get implements Catalog.
func (IdentityCatalog) Get(key string) string { return key }
