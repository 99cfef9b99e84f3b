// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log carries a logrus entry in the context, so every component logs with the
// fields (negotiation, role, peer, req) of the unit of work it is serving.
package log

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

const maxFieldLen = 61

type ctxLogKey struct{}

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = fromContext

	initialized atomic.Bool

	levelNames = map[logrus.Level]string{
		logrus.ErrorLevel: "error",
		logrus.WarnLevel:  "warn",
		logrus.InfoLevel:  "info",
		logrus.DebugLevel: "debug",
		logrus.TraceLevel: "trace",
	}
)

// EnsureInit gives unit tests sane defaults when nothing has called InitConfig
func EnsureInit() {
	if !initialized.Load() {
		InitConfig(&obconf.LogConfig{})
	}
}

func IsTraceEnabled() bool {
	return logrus.IsLevelEnabled(logrus.TraceLevel)
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	EnsureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds a field to the logger in the context, clipping long values
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > maxFieldLen {
		value = value[:maxFieldLen] + "..."
	}
	return WithLogger(ctx, fromContext(ctx).WithField(key, value))
}

// WithComponent tags every line logged by a long-running component
func WithComponent(ctx context.Context, name string) context.Context {
	return WithLogField(ctx, "component", name)
}

func fromContext(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry); ok {
		return logger
	}
	return rootLogger
}

// GetLevel reports the level using the same names SetLevel accepts, with fatal and panic shown as error
func GetLevel() string {
	if name, ok := levelNames[logrus.GetLevel()]; ok {
		return name
	}
	return levelNames[logrus.ErrorLevel]
}

// SetLevel falls back to info for anything it does not recognize
func SetLevel(level string) {
	l, err := logrus.ParseLevel(strings.ToLower(level))
	if _, known := levelNames[l]; err != nil || !known {
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}
