// Copyright 2019 Tad Lebeck
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package util

import (
	"bytes"
	"runtime/debug"

	logging "github.com/op/go-logging"
)

// RecoverFunc is called by PanicLogger with the panic value and the stack
type RecoverFunc func(panicArg interface{}, stack []byte)

// PanicLogger runs f and logs the stack at Critical level if it panics.
// It is meant to be the entry point of a goroutine so that a panic in a background
// task does not take down the daemon. The optional recoverFunc (first one only) is
// called after the stack is logged.
func PanicLogger(log *logging.Logger, f func(), recoverFunc ...RecoverFunc) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		b := debug.Stack()
		log.Criticalf("PANIC: %v\n\n%s", r, bytes.TrimSpace(b))
		if len(recoverFunc) > 0 && recoverFunc[0] != nil {
			recoverFunc[0](r, b)
		}
	}()
	f()
}
