package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narahir/RetroDiffusionApp/pkg/inference"
	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

var ErrInvalidTaskData = errors.New("task data is invalid or missing")

// LibrarySaver persists a finished image. Implemented by library.Client.
type LibrarySaver interface {
	Save(data []byte, meta models.ImageMetadata) (*models.LibraryImage, error)
}

// EventPublisher is notified after a task completes and its image is saved.
// Implemented by events.Publisher; may be nil.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, taskID, imageID string, taskType models.TaskType)
}

// GenerationQueue owns the set of in-flight and finished tasks. Every
// admitted task starts its network call immediately: there is no concurrency
// cap and no queueing delay, the number of outbound calls equals the number
// of in-progress tasks.
type GenerationQueue struct {
	mu      sync.Mutex
	tasks   []*models.GenerationTask
	client  inference.Service
	library LibrarySaver
	events  EventPublisher
}

func NewGenerationQueue(client inference.Service, library LibrarySaver, events EventPublisher) *GenerationQueue {
	return &GenerationQueue{
		client:  client,
		library: library,
		events:  events,
	}
}

// SetDependencies wires the collaborators after construction. Tasks enqueued
// before the inference client is set stay pending and never start.
func (q *GenerationQueue) SetDependencies(client inference.Service, library LibrarySaver, events EventPublisher) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.client = client
	q.library = library
	q.events = events
}

// EnqueueGenerate admits a generation task and returns its id synchronously.
// No validation happens here; the caller is expected to have clamped width
// and height to the API's bounds.
func (q *GenerationQueue) EnqueueGenerate(prompt, model string, width, height int) string {
	task := &models.GenerationTask{
		ID:        uuid.NewString(),
		Type:      models.TaskGenerate,
		Status:    models.TaskPending,
		CreatedAt: time.Now(),
		Prompt:    prompt,
		Model:     model,
		Width:     width,
		Height:    height,
	}
	q.admit(task)
	return task.ID
}

// EnqueuePixelate admits a transformation task for the given source image.
func (q *GenerationQueue) EnqueuePixelate(image []byte) string {
	task := &models.GenerationTask{
		ID:          uuid.NewString(),
		Type:        models.TaskPixelate,
		Status:      models.TaskPending,
		CreatedAt:   time.Now(),
		SourceImage: append([]byte(nil), image...),
	}
	q.admit(task)
	return task.ID
}

// admit appends the task and flips it to in-progress before the goroutine
// launches. Without a wired inference client the task stays pending, which
// is the only window in which Cancel can remove it.
func (q *GenerationQueue) admit(task *models.GenerationTask) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.client == nil {
		q.mu.Unlock()
		return
	}
	task.Status = models.TaskInProgress
	q.mu.Unlock()

	go q.run(task.ID, task.Type, task.Prompt, task.Model, task.Width, task.Height, task.SourceImage)
}

func (q *GenerationQueue) run(id string, taskType models.TaskType, prompt, model string, width, height int, source []byte) {
	ctx := context.Background()

	q.mu.Lock()
	client := q.client
	q.mu.Unlock()

	var result []byte
	var err error

	switch taskType {
	case models.TaskGenerate:
		if prompt == "" || model == "" || width <= 0 || height <= 0 {
			q.markFailed(id, ErrInvalidTaskData)
			return
		}
		result, err = client.Generate(ctx, prompt, model, width, height)
	case models.TaskPixelate:
		if len(source) == 0 {
			q.markFailed(id, ErrInvalidTaskData)
			return
		}
		result, err = client.Pixelate(ctx, source)
	default:
		q.markFailed(id, ErrInvalidTaskData)
		return
	}

	if err != nil {
		q.markFailed(id, err)
		return
	}
	q.markCompleted(id, result)
}

// markCompleted records the terminal state and hands the image to the
// library. A save failure is logged and does not alter the task's state: the
// task is still reported as completed.
func (q *GenerationQueue) markCompleted(id string, image []byte) {
	q.mu.Lock()
	task := q.find(id)
	if task == nil || task.IsTerminal() {
		q.mu.Unlock()
		return
	}
	task.Status = models.TaskCompleted
	task.Result = image
	taskType := task.Type
	meta := models.ImageMetadata{}
	if taskType == models.TaskGenerate {
		meta = models.ImageMetadata{
			Prompt: task.Prompt,
			Model:  task.Model,
			Width:  task.Width,
			Height: task.Height,
		}
	}
	library, events := q.library, q.events
	q.mu.Unlock()

	if library == nil {
		return
	}
	saved, err := library.Save(image, meta)
	if err != nil {
		log.Printf("failed to save completed task %s to library: %v", id, err)
		return
	}
	if events != nil {
		events.PublishCompleted(context.Background(), id, saved.ID, taskType)
	}
}

func (q *GenerationQueue) markFailed(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task := q.find(id)
	if task == nil || task.IsTerminal() {
		return
	}
	task.Status = models.TaskFailed
	task.Error = err.Error()
}

// Cancel removes a task only while it is still pending. In-progress tasks
// run to completion, the network call cannot be aborted once started.
func (q *GenerationQueue) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, task := range q.tasks {
		if task.ID == id && task.Status == models.TaskPending {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// Dismiss drops a finished task from all views. Non-terminal tasks are left
// alone.
func (q *GenerationQueue) Dismiss(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, task := range q.tasks {
		if task.ID == id && task.IsTerminal() {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// Task returns a point-in-time copy of the task with the given id.
func (q *GenerationQueue) Task(id string) (models.GenerationTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task := q.find(id); task != nil {
		return *task, true
	}
	return models.GenerationTask{}, false
}

func (q *GenerationQueue) PendingTasks() []models.GenerationTask {
	return q.filter(models.TaskPending)
}

func (q *GenerationQueue) InProgressTasks() []models.GenerationTask {
	return q.filter(models.TaskInProgress)
}

func (q *GenerationQueue) CompletedTasks() []models.GenerationTask {
	return q.filter(models.TaskCompleted)
}

func (q *GenerationQueue) FailedTasks() []models.GenerationTask {
	return q.filter(models.TaskFailed)
}

// Tasks returns a snapshot of every task, newest last.
func (q *GenerationQueue) Tasks() []models.GenerationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.GenerationTask, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, *task)
	}
	return out
}

func (q *GenerationQueue) filter(status models.TaskStatus) []models.GenerationTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []models.GenerationTask{}
	for _, task := range q.tasks {
		if task.Status == status {
			out = append(out, *task)
		}
	}
	return out
}

// find must be called with the mutex held.
func (q *GenerationQueue) find(id string) *models.GenerationTask {
	for _, task := range q.tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}
