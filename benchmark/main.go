// Package main provides a benchmark tool to measure end-to-end webhook
// delivery throughput: it enqueues a large number of tasks against a
// running server (cmd/server), all pointed at a throwaway local HTTP
// target this binary hosts itself, and measures how long enqueuing and
// delivery each take.
//
// Usage:
//
//	go run benchmark/main.go -tasks 100000 -server http://localhost:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/ntorque/pkg/client"
)

func main() {
	numTasks := flag.Int("tasks", 1000, "Number of tasks to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	serverURL := flag.String("server", "http://localhost:8081", "ntorque server base URL")
	apiKey := flag.String("apikey", "", "Ntorque-Api-Key to authenticate with, if the server requires one")
	flag.Parse()

	var delivered atomic.Int64
	targetAddr, stopTarget := startDeliveryTarget(&delivered)
	defer stopTarget()

	c := client.New(*serverURL, *apiKey)
	ctx := context.Background()

	fmt.Printf("ntorque Benchmark\n")
	fmt.Printf("=================\n")
	fmt.Printf("Tasks to enqueue: %d\n", *numTasks)
	fmt.Printf("Concurrent workers: %d\n", *numWorkers)
	fmt.Printf("Delivery target: %s\n\n", targetAddr)

	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	tasksPerWorker := *numTasks / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < tasksPerWorker; j++ {
				_, err := c.Enqueue(ctx, targetAddr, client.EnqueueOptions{})
				if err != nil {
					fmt.Printf("Error enqueuing: %v\n", err)
					return
				}
				enqueued.Add(1)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("Enqueued %d tasks in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f tasks/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Printf("Waiting for deliveries to complete...\n")
	startProcess := time.Now()
	want := enqueued.Load()

	for delivered.Load() < want {
		time.Sleep(2 * time.Second)
		fmt.Printf("  Delivered: %d/%d\n", delivered.Load(), want)
	}

	processTime := time.Since(startProcess)

	fmt.Printf("\nAll deliveries observed in %s\n", processTime)
	fmt.Printf("  Throughput: %.2f deliveries/sec\n", float64(want)/processTime.Seconds())

	totalTime := enqueueTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f tasks/sec\n", float64(want)/totalTime.Seconds())
}

// startDeliveryTarget hosts a throwaway HTTP endpoint that immediately
// acknowledges every request, so the benchmark measures queue and
// worker throughput rather than a real remote service's latency.
func startDeliveryTarget(delivered *atomic.Int64) (url string, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("benchmark: listen: %v", err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	return fmt.Sprintf("http://%s/", ln.Addr().String()), func() {
		srv.Close()
	}
}
