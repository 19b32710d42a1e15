// Copyright 2020 gorse Project Authors
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

package parallel

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorse-io/roller/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const chanSize = 1024

// Parallel runs worker for every job id in [0, nJobs) on nWorkers goroutines.
// The first error (by job id) is returned after all workers stop. A panic in
// a worker is converted to an error for its job.
func Parallel(ctx context.Context, nJobs, nWorkers int, worker func(workerId, jobId int) error) error {
	if nWorkers <= 1 {
		for i := 0; i < nJobs; i++ {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			if err := worker(0, i); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c := make(chan int, chanSize)
	go func() {
		defer close(c)
		for i := 0; i < nJobs; i++ {
			select {
			case <-jobCtx.Done():
				return
			case c <- i:
			}
		}
	}()
	var wg sync.WaitGroup
	errs := make([]error, nJobs)
	for j := 0; j < nWorkers; j++ {
		workerId := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jobId := range c {
				if err := ctx.Err(); err != nil {
					errs[jobId] = err
					return
				}
				if err := safeRun(workerId, jobId, worker); err != nil {
					errs[jobId] = err
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(ctx.Err())
}

func safeRun(workerId, jobId int, worker func(workerId, jobId int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger().Error("panic recovered", zap.Int("job_id", jobId), zap.Any("panic", r))
			err = fmt.Errorf("job %d panicked: %v", jobId, r)
		}
	}()
	return worker(workerId, jobId)
}

// For is Parallel without cancellation or errors.
func For(nJobs, nWorkers int, worker func(int)) {
	_ = Parallel(context.Background(), nJobs, nWorkers, func(_, jobId int) error {
		worker(jobId)
		return nil
	})
}
