package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

// Publisher emits a small event to RabbitMQ whenever a task finishes and its
// image lands in the library. Publishing is best-effort; failures are logged
// and never affect the task.
type Publisher struct {
	channel *amqp.Channel
	queue   string
}

type CompletedEvent struct {
	TaskID  string          `json:"task_id"`
	ImageID string          `json:"image_id"`
	Type    models.TaskType `json:"type"`
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &Publisher{channel: channel, queue: queue}, nil
}

func (p *Publisher) PublishCompleted(ctx context.Context, taskID, imageID string, taskType models.TaskType) {
	body, err := json.Marshal(CompletedEvent{TaskID: taskID, ImageID: imageID, Type: taskType})
	if err != nil {
		log.Printf("failed to marshal completion event for task %s: %v", taskID, err)
		return
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   taskID,
		Body:        body,
	})
	if err != nil {
		log.Printf("failed to publish completion event for task %s: %v", taskID, err)
	}
}
