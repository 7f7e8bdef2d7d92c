package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TaskStop makes the worker exit once every task sent before it has been handled.
type TaskStop struct{}

type Task interface{}

// Worker runs a TaskHandler on a single goroutine, feeding it the tasks sent to Sender in order.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run something on the worker goroutine before the first task.
type Starter interface {
	Start()
}

// Finisher is implemented by handlers that need to run something on the worker goroutine after the last task.
type Finisher interface {
	Finish()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		handled := 0
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				break
			}
			handler.Handle(task)
			handled++
		}
		if f, ok := handler.(Finisher); ok {
			f.Finish()
		}
		log.Debug("worker stopped", zap.String("name", w.name), zap.Int("handled", handled))
	}()
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop asks the worker to exit. Wait on the WaitGroup passed to NewWorker to know when it has.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

// NewWorker creates a worker whose queue holds capacity tasks, or a default number when capacity is not positive.
func NewWorker(name string, capacity int, wg *sync.WaitGroup) *Worker {
	if capacity <= 0 {
		capacity = defaultWorkerCapacity
	}
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
