package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dp62042/duty-platform/internal/attendance"
	"github.com/dp62042/duty-platform/internal/config"
	"github.com/dp62042/duty-platform/internal/metrics"
	"github.com/dp62042/duty-platform/internal/queue"
	"github.com/dp62042/duty-platform/internal/store"
)

// Worker consumes audit events published by the API: attendance marks and
// session terminations. It keeps the processing trail and metrics out of the
// request path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "duty:audit")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for audit events...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeAttendanceMarked:
			var rec attendance.Record
			if err := json.Unmarshal(msg.Body, &rec); err != nil {
				log.Printf("malformed %s event: %v", msg.Type, err)
				continue
			}
			log.Printf("attendance marked: %s (%s) session=%s via=%s",
				rec.StudentName, rec.RegistrationNumber, rec.SessionID, rec.JoinedVia)
			metrics.AuditProcessed.WithLabelValues(msg.Type).Inc()

		case queue.TypeSessionEnded:
			var evt struct {
				SessionID   string `json:"sessionId"`
				SessionCode string `json:"sessionCode"`
				EndedAt     string `json:"endedAt"`
			}
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("malformed %s event: %v", msg.Type, err)
				continue
			}
			log.Printf("session ended: %s (code %s) at %s", evt.SessionID, evt.SessionCode, evt.EndedAt)
			metrics.AuditProcessed.WithLabelValues(msg.Type).Inc()

		default:
			log.Printf("skipping unknown event type %q", msg.Type)
		}
	}

	log.Println("worker stopped")
}
