// SPDX-License-Identifier: Apache-2.0

// Package base provides the structured logging wrapper used everywhere in
// vdc-host, rebuilt from the call-site shape of the teacher's own `base`
// package (e.g. `log.Functionf`, `log.Noticef`, `log.Warnf`, `log.Errorf`,
// `depgraph_test.go`'s `base.NewSourceLogObject`) since that package's
// source was not part of the retrieval pack.
package base

import (
	"github.com/sirupsen/logrus"
)

// LogObject wraps a *logrus.Logger with a fixed "source" field (subsystem
// or entity name) so every call site doesn't have to attach it by hand.
type LogObject struct {
	logger      *logrus.Logger
	source      string
	pid         int
	entryFields []fieldKV
}

// NewSourceLogObject creates a LogObject tagged with source and an
// arbitrary numeric identity (object/device index), matching the
// teacher's NewSourceLogObject(logger, source, pid int) signature.
func NewSourceLogObject(logger *logrus.Logger, source string, pid int) *LogObject {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogObject{logger: logger, source: source, pid: pid}
}

func (l *LogObject) entry() *logrus.Entry {
	fields := logrus.Fields{"source": l.source, "pid": l.pid}
	for _, kv := range l.entryFields {
		fields[kv.key] = kv.value
	}
	return l.logger.WithFields(fields)
}

// Functionf logs at debug level, for "entered/left function" style tracing.
func (l *LogObject) Functionf(format string, args ...interface{}) {
	l.entry().Debugf(format, args...)
}

// Tracef logs at trace level.
func (l *LogObject) Tracef(format string, args ...interface{}) {
	l.entry().Tracef(format, args...)
}

// Noticef logs at info level, for state transitions worth keeping around.
func (l *LogObject) Noticef(format string, args ...interface{}) {
	l.entry().Infof(format, args...)
}

// Warnf logs at warn level.
func (l *LogObject) Warnf(format string, args ...interface{}) {
	l.entry().Warnf(format, args...)
}

// Errorf logs at error level.
func (l *LogObject) Errorf(format string, args ...interface{}) {
	l.entry().Errorf(format, args...)
}

// Error logs a bare error value plus context, mirroring the teacher's
// `log.Error(err, context)` call shape.
func (l *LogObject) Error(args ...interface{}) {
	l.entry().Error(args...)
}

// Fatal logs at fatal level and terminates the process, matching the
// teacher's `log.Fatal(err)` usage at startup for unrecoverable errors.
func (l *LogObject) Fatal(args ...interface{}) {
	l.entry().Fatal(args...)
}

// WithField returns a derived LogObject carrying an extra structured
// field for every subsequent call (e.g. "device": dsuidString).
func (l *LogObject) WithField(key string, value interface{}) *LogObject {
	child := &LogObject{logger: l.logger, source: l.source, pid: l.pid}
	child.entryFields = append(append([]fieldKV{}, l.entryFields...), fieldKV{key, value})
	return child
}

type fieldKV struct {
	key   string
	value interface{}
}
