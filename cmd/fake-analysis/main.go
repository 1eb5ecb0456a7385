// Command fake-analysis serves the analysis service endpoints with seeded
// synthetic signals so the monitor can run without the CV pipeline.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	seed := flag.Uint64("seed", 1, "signal seed")
	duration := flag.Float64("duration", 300, "footage duration in seconds (0 = no footage)")
	window := flag.String("window", "30s", "field suffix of the window signals (30s or 15s)")
	failRate := flag.Float64("fail-rate", 0, "fraction of window requests answered with 503")
	latency := flag.Duration("latency", 0, "delay added to every window request")
	flag.Parse()

	if *window != "30s" && *window != "15s" {
		log.Fatalf("window must be 30s or 15s, got %q", *window)
	}

	s := newStub(*seed, *duration, *window)
	s.failRate = *failRate
	s.latency = *latency

	srv := &http.Server{
		Addr:         *addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	log.Printf("Fake analysis service on %s (seed %d, %.0fs footage)", *addr, *seed, *duration)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to serve HTTP: %v", err)
	}
}
