package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool fans tasks out to a fixed set of tomb-managed workers.
type WorkerPool struct {
	n     uint           // number of workers
	tasks chan any       // pending tasks
	work  WorkerFunction // do work method
}

func NewWorkerPool(size uint) WorkerPool {
	return WorkerPool{
		n:     size,
		tasks: make(chan any, taskChanSize),
	}
}

// Setup starts the workers on the given tomb. A worker returning an error
// kills the tomb; the pool does not replace it.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	pool.work = work
	for i := uint(0); i < pool.n; i++ {
		id := int(i)
		t.Go(func() error {
			return pool.worker(t, id)
		})
	}
}

func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Workers wait on tasks in the task pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := pool.work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
