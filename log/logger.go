// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.
//
// The N42 library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The N42 library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the N42 library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// Ctx is a map of context key/value pairs, convertible to the flat
// alternating-key/value slice the Logger methods take as varargs.
type Ctx map[string]interface{}

func (c Ctx) toArray() []interface{} {
	arr := make([]interface{}, 0, len(c)*2)
	for k, v := range c {
		arr = append(arr, k, v)
	}
	return arr
}

// normalize pads an odd-length context slice with a trailing nil so
// every key always has a paired value.
func normalize(ctx []interface{}) []interface{} {
	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil)
	}
	return ctx
}

// logger is the default Logger implementation, backed by logrus and a
// fixed context accumulated through chained New calls.
type logger struct {
	ctx     []interface{}
	mapPool sync.Pool
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{}
	child.ctx = make([]interface{}, 0, len(l.ctx)+len(ctx))
	child.ctx = append(child.ctx, l.ctx...)
	child.ctx = append(child.ctx, normalize(ctx)...)
	return child
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(msg, LvlTrace, ctx, skipLevel) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(msg, LvlDebug, ctx, skipLevel) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(msg, LvlInfo, ctx, skipLevel) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(msg, LvlWarn, ctx, skipLevel) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(msg, LvlError, ctx, skipLevel) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(msg, LvlCrit, ctx, skipLevel)
}

var lvlToLogrus = map[Lvl]logrus.Level{
	LvlCrit:  logrus.FatalLevel,
	LvlFatal: logrus.FatalLevel,
	LvlError: logrus.ErrorLevel,
	LvlWarn:  logrus.WarnLevel,
	LvlInfo:  logrus.InfoLevel,
	LvlDebug: logrus.DebugLevel,
	LvlTrace: logrus.TraceLevel,
}

func (l *logger) write(msg string, lvl Lvl, ctx []interface{}, skip int) {
	fields := logrus.Fields{}
	all := normalize(append(append([]interface{}{}, l.ctx...), ctx...))
	for i := 0; i+1 < len(all); i += 2 {
		key, ok := all[i].(string)
		if !ok {
			key = "field"
		}
		fields[key] = all[i+1]
	}

	if pc, file, line, ok := runtime.Caller(skip); ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			fields["caller"] = fn.Name()
		}
		fields["file"] = file
		fields["line"] = line
	}

	entry := terminal.WithFields(fields)
	switch lvl {
	case LvlCrit, LvlFatal:
		entry.Error(msg)
	default:
		entry.Log(lvlToLogrus[lvl], msg)
	}
}
