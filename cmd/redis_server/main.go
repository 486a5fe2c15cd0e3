// Command redis_server runs an in-process miniredis instance on
// 127.0.0.1:6379, standing in for a real Redis during local development
// so cmd/server, cmd/worker and cmd/requeuer have a notification list to
// talk to without a separate Redis install.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
)

func main() {
	s := miniredis.NewMiniRedis()
	if err := s.StartAddr("127.0.0.1:6379"); err != nil {
		log.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	log.Printf("MiniRedis server started on %s", s.Addr())

	// Wait for interrupt signal to gracefully shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down MiniRedis...")
}
