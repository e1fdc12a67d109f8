/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package task runs long jobs (firmware downloads, modem housekeeping)
// serially on a worker goroutine, outside the client's main loop.
package task

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type job struct {
	name string
	fn   func(ctx context.Context) error
	ch   chan error
}

// A queue for running jobs serially.  Every job receives a context that is
// cancelled when the queue stops, so that a job blocked on network IO can be
// abandoned.
type TaskQueue struct {
	jobCh  chan job
	ctx    context.Context
	cancel context.CancelFunc
	active bool
	name   string
	mtx    sync.Mutex
	wg     sync.WaitGroup
}

func NewTaskQueue(name string) *TaskQueue {
	return &TaskQueue{
		name: name,
	}
}

var InactiveError = fmt.Errorf("inactive task queue")
var FullError = fmt.Errorf("task queue full")

func (q *TaskQueue) push(j job, block bool) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.active {
		return InactiveError
	}

	if block {
		q.jobCh <- j
		return nil
	}

	select {
	case q.jobCh <- j:
		return nil
	default:
		return FullError
	}
}

// Pushes the specified function onto the task queue.  When the job completes,
// the result is sent over the returned channel.
func (q *TaskQueue) Enqueue(name string,
	fn func(ctx context.Context) error) chan error {

	j := job{
		name: name,
		fn:   fn,
		ch:   make(chan error, 1),
	}

	if err := q.push(j, true); err != nil {
		j.ch <- err
		close(j.ch)
	}

	return j.ch
}

// Like Enqueue, but fails with FullError instead of blocking when the queue
// is at capacity.
func (q *TaskQueue) TryEnqueue(name string,
	fn func(ctx context.Context) error) (chan error, error) {

	j := job{
		name: name,
		fn:   fn,
		ch:   make(chan error, 1),
	}

	if err := q.push(j, false); err != nil {
		return nil, err
	}

	return j.ch, nil
}

// Enqueues the specified function and waits for it to complete.
func (q *TaskQueue) Run(name string, fn func(ctx context.Context) error) error {
	return <-q.Enqueue(name, fn)
}

// Starts the task queue.  A task queue must be started before jobs can be
// enqueued to it.
func (q *TaskQueue) Start(depth int) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.active {
		return fmt.Errorf("Task queue started twice \"%s\"", q.name)
	}
	q.active = true

	jobCh := make(chan job, depth)
	q.jobCh = jobCh

	ctx, cancel := context.WithCancel(context.Background())
	q.ctx = ctx
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		for {
			select {
			case j, ok := <-jobCh:
				if !ok {
					return
				}

				log.Debugf("%s: running job %s", q.name, j.name)
				err := j.fn(ctx)
				if err != nil {
					log.Debugf("%s: job %s failed: %s",
						q.name, j.name, err.Error())
				}
				j.ch <- err
				close(j.ch)

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stops the task queue.  Queued jobs fail with the specified error and the
// running job's context is cancelled.  This function blocks until the worker
// returns, so calling it from within a job results in deadlock; a job that
// needs to stop its own queue uses StopNoWait.
func (q *TaskQueue) Stop(cause error) error {
	if err := q.StopNoWait(cause); err != nil {
		return err
	}

	q.wg.Wait()
	return nil
}

func (q *TaskQueue) StopNoWait(cause error) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.active {
		return fmt.Errorf("Task queue stopped twice \"%s\"", q.name)
	}

	q.cancel()

	close(q.jobCh)
	for {
		next, ok := <-q.jobCh
		if !ok {
			break
		}

		next.ch <- cause
		close(next.ch)
	}

	q.active = false

	return nil
}

func (q *TaskQueue) Active() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.active
}
