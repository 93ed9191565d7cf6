package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"resume-pipeline/domain"
)

const auditQueueName = "resume_audit"

// AMQPAuditSink publishes pipeline audit records to a RabbitMQ queue for
// downstream consumers. Publishing is best-effort: every failure is
// swallowed after a debug log, and a failed Record never touches job state.
type AMQPAuditSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	log     logrus.FieldLogger
}

func NewAMQPAuditSink(url string, log logrus.FieldLogger) (*AMQPAuditSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		auditQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &AMQPAuditSink{conn: conn, channel: ch, queue: q, log: log}, nil
}

func (s *AMQPAuditSink) Record(ctx context.Context, entry domain.AuditRecord) {
	body, err := json.Marshal(entry)
	if err != nil {
		s.log.WithError(err).Debug("audit record not serializable, dropped")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = s.channel.PublishWithContext(
		pubCtx,
		"",           // exchange
		s.queue.Name, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		s.log.WithError(err).Debug("audit publish failed, dropped")
	}
}

func (s *AMQPAuditSink) Close() {
	s.channel.Close()
	s.conn.Close()
}

// LogAuditSink writes audit records to the service log. Used when no AMQP
// URL is configured.
type LogAuditSink struct {
	log logrus.FieldLogger
}

func NewLogAuditSink(log logrus.FieldLogger) *LogAuditSink {
	return &LogAuditSink{log: log}
}

func (s *LogAuditSink) Record(ctx context.Context, entry domain.AuditRecord) {
	s.log.WithFields(logrus.Fields{
		"job_id":      entry.JobID,
		"stage":       entry.Stage,
		"method":      entry.Method,
		"cache_hit":   entry.CacheHit,
		"success":     entry.Success,
		"tokens":      entry.Usage.TotalTokens,
		"duration_ms": entry.DurationMS,
		"error":       entry.ErrorMessage,
	}).Info("pipeline audit")
}
