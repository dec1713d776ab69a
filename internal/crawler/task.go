package crawler

import (
	"context"

	"github.com/nao1215/crawlcache/internal/model"
)

// Continuation handles the response of a task. It returns follow-up tasks
// and results, built with Follow and Emit.
type Continuation[T any] func(ctx context.Context, req model.Request, resp *model.Response) ([]Yielded[T], error)

// Task is a request plus the continuation that consumes its response.
// A nil Continue fetches and caches the request without yielding anything.
type Task[T any] struct {
	Request  model.Request
	Continue Continuation[T]
}

// NewTask builds a Task.
func NewTask[T any](req model.Request, next Continuation[T]) Task[T] {
	return Task[T]{Request: req, Continue: next}
}

// Yielded is either a follow-up task or a result.
type Yielded[T any] struct {
	task      Task[T]
	value     T
	isRequest bool
}

// Follow yields a follow-up task.
func Follow[T any](task Task[T]) Yielded[T] {
	return Yielded[T]{task: task, isRequest: true}
}

// Emit yields a result for the caller.
func Emit[T any](v T) Yielded[T] {
	return Yielded[T]{value: v}
}

// IsRequest reports whether y carries a follow-up task.
func (y Yielded[T]) IsRequest() bool {
	return y.isRequest
}

// Task returns the follow-up task. It is the zero Task for results.
func (y Yielded[T]) Task() Task[T] {
	return y.task
}

// Value returns the result. It is the zero value for follow-up tasks.
func (y Yielded[T]) Value() T {
	return y.value
}
