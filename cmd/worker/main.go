package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"absensi/internal/attendance"
	"absensi/internal/config"
	"absensi/internal/queue"
	"absensi/internal/store"
)

// Worker drains door-event audit messages from the queue and persists them.
// Audit writes stay off the kiosk request path; a failed insert loses one
// audit row, never an attendance record.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	repo := attendance.NewRepository(db.Client, cfg.Location())
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for door events...")
	for msg := range messages {
		if msg.Type != attendance.MessageDoorEvent {
			continue
		}

		var de attendance.DoorEvent
		if err := json.Unmarshal(msg.Body, &de); err != nil {
			log.Printf("bad door event payload: %v", err)
			continue
		}

		if err := repo.InsertDoorEvent(ctx, de); err != nil {
			log.Printf("door event insert failed: kode=%s: %v", de.EmployeeCode, err)
			continue
		}
		log.Printf("door event recorded: kode=%s status=%s success=%v", de.EmployeeCode, de.Status, de.Success)
	}

	log.Println("worker stopped")
}
