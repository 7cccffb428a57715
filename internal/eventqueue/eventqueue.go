// Package eventqueue is the outbound event queue: a Redis-backed,
// at-least-once relay that hands classified attendance events to whatever
// delivers them to a tenant's registered webhook receiver. The broadcast
// hub is the primary, synchronous fan-out; this is the durable,
// best-effort second leg, and its failure never affects the ingestion
// pipeline's transactional guarantees. A failed delivery is pushed onto a
// per-tenant :retry list, or onto a per-tenant dead-letter list once it
// has failed three times; Deliver itself does not consume the :retry list.
package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"school-attendance-bridge/internal/types"
)

const maxRetries = 3

func tenantQueue(tenant string) string { return fmt.Sprintf("attendance:events:%s", tenant) }
func retryQueue(tenant string) string  { return tenantQueue(tenant) + ":retry" }
func dlqQueue(tenant string) string    { return tenantQueue(tenant) + ":dlq" }

// Message is the wire envelope pushed onto a tenant's Redis list.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Retries   int            `json:"retries"`
}

// Relay is a tenant-scoped, Redis-backed outbound event queue. It
// satisfies internal/ingestion.EventRelay.
type Relay struct {
	client *redis.Client
	log    *logrus.Entry
}

// New dials addr and verifies connectivity with a Ping.
func New(addr, password string, db int, log *logrus.Entry) (*Relay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Relay{client: client, log: log}, nil
}

// Close releases the underlying Redis connection pool.
func (r *Relay) Close() error {
	return r.client.Close()
}

// Health reports whether the Redis connection is alive.
func (r *Relay) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Enqueue pushes a classified attendance record onto its tenant's
// outbound event queue for eventual webhook delivery. Best-effort:
// callers should log and continue on error, never roll back the
// ingestion transaction.
func (r *Relay) Enqueue(tenant string, record types.AttendanceRecord) error {
	msg := Message{
		ID:        record.ID,
		Type:      "attendance_event",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"device_id":      record.DeviceID,
			"student_id":     record.StudentID,
			"device_user_id": record.DeviceUserID,
			"occurred_at":    record.OccurredAt,
			"event_type":     record.EventType,
		},
	}
	return r.push(context.Background(), tenantQueue(tenant), msg)
}

func (r *Relay) push(ctx context.Context, queue string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// QueueLength reports how many undelivered events remain for a tenant, for
// operational visibility.
func (r *Relay) QueueLength(ctx context.Context, tenant string) (int64, error) {
	return r.client.LLen(ctx, tenantQueue(tenant)).Result()
}

// Deliver blocks, popping events off a tenant's queue and invoking handler
// for each. A handler error increments the message's Retries count and
// pushes it onto the tenant's :retry list, or onto the tenant's
// dead-letter list once Retries reaches maxRetries. Only the primary queue
// is read here; messages on the :retry list are not redelivered by
// Deliver. Deliver returns when
// ctx is cancelled or the Redis connection fails.
func (r *Relay) Deliver(ctx context.Context, tenant string, handler func(Message) error) error {
	queue := tenantQueue(tenant)
	for {
		result, err := r.client.BRPop(ctx, 0, queue).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive event: %w", err)
		}
		if len(result) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			r.log.WithError(err).Error("eventqueue: malformed message, dropping")
			continue
		}

		if err := handler(msg); err != nil {
			r.log.WithError(err).WithField("message_id", msg.ID).Warn("eventqueue: delivery failed")
			msg.Retries++
			target := retryQueue(tenant)
			if msg.Retries >= maxRetries {
				target = dlqQueue(tenant)
			}
			if pushErr := r.push(ctx, target, msg); pushErr != nil {
				r.log.WithError(pushErr).Error("eventqueue: failed to requeue message")
			}
		}
	}
}
