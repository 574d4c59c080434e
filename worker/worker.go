// Copyright (C) 2025 dria-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package worker implements the dual-track task pool: a serial worker for
// local models that contend for the machine's CPU/GPU, and a batch worker
// that executes API-bound tasks concurrently in bounded waves.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dria-x-project/dkn/executor"
	"github.com/dria-x-project/dkn/internal/logger"
	"github.com/dria-x-project/dkn/payloads"
)

// MaxBatchSize is the largest number of tasks one batch may execute
// concurrently.
const MaxBatchSize = 8

// taskChannelSize buffers queued tasks per worker.
const taskChannelSize = 1024

// drainGracePeriod is how long the batch worker waits for more tasks to
// arrive after the first one, before executing a partial batch.
const drainGracePeriod = 256 * time.Millisecond

// Input is one task handed to a worker. The executor handle is a cheap
// copy sharing the provider's HTTP connection pool.
type Input struct {
	TaskID uuid.UUID
	RowID  uuid.UUID
	// Executor runs the task against its provider backend.
	Executor executor.Client
	// Task is the parsed task body.
	Task executor.TaskBody
	// Stats carries the lifecycle timestamps recorded so far.
	Stats payloads.TaskStats
	// Batchable routes the task to the batch or serial worker.
	Batchable bool
}

// Output is the result of one executed task, sent back to the dispatcher.
type Output struct {
	TaskID uuid.UUID
	RowID  uuid.UUID
	// Batchable tells the dispatcher which pending-task map to resolve.
	Batchable bool
	Stats     payloads.TaskStats
	// Result is the generated text when Err is nil.
	Result string
	// Err is the execution failure, nil on success.
	Err error
}

// Worker consumes task inputs from its channel and publishes outputs on
// the shared publish channel. Run exactly one of RunSerial or RunBatch.
type Worker struct {
	tasks     <-chan Input
	publishTx chan<- Output
	log       logger.Logger
}

// New creates a worker and returns its task channel. The caller keeps the
// channel to queue tasks, and closes it to shut the worker down.
func New(publishTx chan<- Output) (*Worker, chan Input) {
	tasks := make(chan Input, taskChannelSize)
	worker := &Worker{
		tasks:     tasks,
		publishTx: publishTx,
		log:       logger.GetDefaultLogger(),
	}
	return worker, tasks
}

// RunSerial processes tasks one by one, for backends that would be
// oversubscribed by concurrent execution. It returns when the task channel
// closes or the context is cancelled.
func (w *Worker) RunSerial(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-w.tasks:
			if !ok {
				w.log.Info("closing serial task worker")
				return
			}
			w.log.Info("processing task (single)", logger.String("task_id", task.TaskID.String()))
			w.execute(ctx, task)
		}
	}
}

// RunBatch processes tasks in concurrent waves of at most batchSize. It
// blocks for the first task of a wave, then drains the channel for a short
// grace period to fill the batch. It returns when the task channel closes
// or the context is cancelled; an in-flight wave completes first.
func (w *Worker) RunBatch(ctx context.Context, batchSize int) {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > MaxBatchSize {
		w.log.Warn("batch size exceeds the maximum, clamping",
			logger.Int("batch_size", batchSize), logger.Int("max", MaxBatchSize))
		batchSize = MaxBatchSize
	}

	for {
		tasks := make([]Input, 0, batchSize)

		// block for the first task of the wave
		select {
		case <-ctx.Done():
			return
		case task, ok := <-w.tasks:
			if !ok {
				w.log.Info("closing batch task worker")
				return
			}
			tasks = append(tasks, task)
		}

		// give late arrivals a short window to join the wave
		closed := false
		grace := time.NewTimer(drainGracePeriod)
	drain:
		for len(tasks) < batchSize {
			select {
			case task, ok := <-w.tasks:
				if !ok {
					closed = true
					break drain
				}
				tasks = append(tasks, task)
			case <-grace.C:
				break drain
			}
		}
		grace.Stop()

		w.log.Info("processing tasks in batch", logger.Int("count", len(tasks)))
		group, groupCtx := errgroup.WithContext(ctx)
		for _, task := range tasks {
			group.Go(func() error {
				w.execute(groupCtx, task)
				return nil
			})
		}
		_ = group.Wait()

		if closed {
			w.log.Info("closing batch task worker")
			return
		}
	}
}

// execute runs one task, stamps its execution timestamps and publishes the
// output. A publish failure is logged but does not poison the worker.
func (w *Worker) execute(ctx context.Context, input Input) {
	input.Stats = input.Stats.RecordExecutionStartedAt()
	generation, err := input.Executor.Execute(ctx, input.Task)
	input.Stats = input.Stats.RecordExecutionEndedAt().RecordTokenCount(generation.Tokens)

	output := Output{
		TaskID:    input.TaskID,
		RowID:     input.RowID,
		Batchable: input.Batchable,
		Stats:     input.Stats,
		Result:    generation.Text,
		Err:       err,
	}

	select {
	case w.publishTx <- output:
	case <-ctx.Done():
		w.log.Error("could not publish task result, dispatcher is gone",
			logger.String("task_id", input.TaskID.String()))
	}
}
