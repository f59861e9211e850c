// Package uplink implements a reliable store-and-forward event pipeline
// for producers on memory-bounded hosts.
//
// Producers enqueue small structured events into a fixed-capacity ring
// buffer; a single driver periodically calls Poll, which delivers the
// head-of-queue message to a remote collector over a request/response
// transport and schedules bounded exponential backoff with jitter on
// failure. Delivery is at-least-once: every envelope carries a device id
// and a monotonically increasing message id so the collector can
// deduplicate retries.
//
// Key properties:
//   - Enqueue runs in bounded time regardless of network state and is
//     never blocked by an in-flight delivery.
//   - No allocation per attempt: queue slots and codec buffers are sized
//     at construction and reused.
//   - Strict FIFO delivery; a failing head message blocks the messages
//     behind it until its attempt budget is exhausted, then it is dropped.
//   - Poll never returns an error. Persistent failure is observable only
//     as growing QueueDepth and log output.
//
// Basic usage:
//
//	cfg := uplink.DefaultConfig()
//	cfg.Endpoint.Host = "10.0.0.2"
//	cfg.DeviceID = "greenhouse-7"
//
//	core, err := uplink.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for range time.Tick(100 * time.Millisecond) {
//	        core.Poll()
//	    }
//	}()
//
//	core.Enqueue("LIGHT_ADC", `{"adc":1234}`)
package uplink
