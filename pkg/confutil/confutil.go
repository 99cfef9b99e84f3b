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

// Package confutil resolves optional pointer config values against their defaults.
// The log package depends on this one, so nothing in here can log.
package confutil

import (
	"cmp"
	"math"
	"time"

	"github.com/docker/go-units"
	"k8s.io/utils/ptr"
)

func P[T any](v T) *T {
	return ptr.To(v)
}

// Value is the configured value, or def when it is not set
func Value[T any](v *T, def T) T {
	return ptr.Deref(v, def)
}

// Min is the configured value raised to min, or def when it is not set
func Min[T cmp.Ordered](v *T, min, def T) T {
	if v == nil {
		return def
	}
	return max(*v, min)
}

func Int(iVal *int, def int) int {
	return Value(iVal, def)
}

func IntMin(iVal *int, min int, def int) int {
	return Min(iVal, min, def)
}

func Bool(bVal *bool, def bool) bool {
	return Value(bVal, def)
}

func StringNotEmpty(sVal *string, def string) string {
	if s := Value(sVal, ""); s != "" {
		return s
	}
	return def
}

// StringSlice only falls back to the default for nil, so an explicit empty list stays empty
func StringSlice(sVal []string, def []string) []string {
	if sVal == nil {
		return def
	}
	return sVal
}

// parsed applies a parser to a configured string, with unparsable values treated as unset
func parsed[T cmp.Ordered](sVal *string, parse func(string) (T, error), min T, def string) T {
	if sVal != nil {
		if v, err := parse(*sVal); err == nil {
			return max(v, min)
		}
	}
	v, _ := parse(def)
	return v
}

func DurationMin(sVal *string, min time.Duration, def string) time.Duration {
	return parsed(sVal, time.ParseDuration, min, def)
}

// DurationSeconds rounds up to whole seconds
func DurationSeconds(sVal *string, min time.Duration, def string) int64 {
	return int64(math.Ceil(DurationMin(sVal, min, def).Seconds()))
}

// ByteSize accepts human sizes like "64Kb" or "1MB"
func ByteSize(sVal *string, min int64, def string) int64 {
	return parsed(sVal, units.RAMInBytes, min, def)
}
