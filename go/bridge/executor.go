// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"sync"

	"github.com/sqlthink/tdsbridge/go/sberrors"
)

// executor is a single-worker task queue. Every exported bridge operation
// is submitted here and the submitting goroutine blocks until the worker
// finishes it, which turns the asynchronous network client into the
// synchronous call shape the native boundary needs and serializes all
// access to the active-connection slot. A panic inside a task is recovered
// by the worker and surfaced as an ordinary error; it must never unwind
// past the native boundary.
type executor struct {
	tasks chan func()

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan func()),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.stop:
			return
		}
	}
}

// submit runs fn on the worker and blocks until it returns.
func (e *executor) submit(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case e.tasks <- func() { errc <- runRecovered(fn) }:
		return <-errc
	case <-e.stop:
		return sberrors.New(sberrors.CodeInternal, "execution worker is stopped")
	}
}

// close stops the worker and waits for it to drain the task in flight.
func (e *executor) close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func runRecovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = sberrors.Errorf(sberrors.CodeInternal, "recovered panic in execution worker: %v", r)
		}
	}()
	return fn()
}
