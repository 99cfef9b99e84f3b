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

package log

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// InitConfig applies the node's log section to the global logrus logger
func InitConfig(conf *obconf.LogConfig) {
	initialized.Store(true)
	defs := obconf.LogDefaults

	SetLevel(confutil.StringNotEmpty(conf.Level, *defs.Level))
	logrus.SetOutput(output(conf))

	format := confutil.StringNotEmpty(conf.Format, *defs.Format)
	logrus.SetReportCaller(format == "detailed")
	formatter := newFormatter(format, conf)
	if confutil.Bool(conf.UTC, *defs.UTC) {
		formatter = utcFormatter{formatter}
	}
	logrus.SetFormatter(formatter)
}

func output(conf *obconf.LogConfig) io.Writer {
	switch confutil.StringNotEmpty(conf.Output, *obconf.LogDefaults.Output) {
	case "file":
		return rollingFile(&conf.File)
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}

// rollingFile rounds the size up to whole megabytes and the age up to whole days, as lumberjack requires
func rollingFile(conf *obconf.LogFileConfig) *lumberjack.Logger {
	defs := &obconf.LogDefaults.File
	filename := confutil.StringNotEmpty(conf.Filename, *defs.Filename)
	rootLogger.Infof("Writing logs to %s", filename)
	const mb, day = 1024 * 1024, 24 * time.Hour
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    int(math.Ceil(float64(confutil.ByteSize(conf.MaxSize, 0, *defs.MaxSize)) / mb)),
		MaxAge:     int(math.Ceil(float64(confutil.DurationMin(conf.MaxAge, 0, *defs.MaxAge)) / float64(day))),
		MaxBackups: confutil.IntMin(conf.MaxBackups, 0, *defs.MaxBackups),
		Compress:   confutil.Bool(conf.Compress, *defs.Compress),
	}
}

func newFormatter(format string, conf *obconf.LogConfig) logrus.Formatter {
	defs := obconf.LogDefaults
	timeFormat := confutil.StringNotEmpty(conf.TimeFormat, *defs.TimeFormat)
	noColor := confutil.Bool(conf.DisableColor, *defs.DisableColor)
	forceColor := confutil.Bool(conf.ForceColor, *defs.ForceColor)
	switch format {
	case "json":
		field := func(v *string, def *string) string { return confutil.StringNotEmpty(v, *def) }
		return &logrus.JSONFormatter{
			TimestampFormat: timeFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  field(conf.JSON.TimestampField, defs.JSON.TimestampField),
				logrus.FieldKeyLevel: field(conf.JSON.LevelField, defs.JSON.LevelField),
				logrus.FieldKeyMsg:   field(conf.JSON.MessageField, defs.JSON.MessageField),
				logrus.FieldKeyFunc:  field(conf.JSON.FuncField, defs.JSON.FuncField),
				logrus.FieldKeyFile:  field(conf.JSON.FileField, defs.JSON.FileField),
			},
		}
	case "detailed":
		return &logrus.TextFormatter{
			DisableColors:   noColor,
			ForceColors:     forceColor,
			TimestampFormat: timeFormat,
			FullTimestamp:   true,
		}
	default:
		return &prefixed.TextFormatter{
			DisableColors:   noColor,
			ForceColors:     forceColor,
			TimestampFormat: timeFormat,
			ForceFormatting: true,
			FullTimestamp:   true,
		}
	}
}

type utcFormatter struct {
	logrus.Formatter
}

func (u utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}
