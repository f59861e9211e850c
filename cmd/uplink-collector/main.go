// Command uplink-collector is a reference collector for the uplink wire
// contract. It accepts envelopes on POST, deduplicates retried messages
// by (deviceId, messageId), and answers {"code":0}. A configurable
// failure rate makes it useful for exercising client-side retry and
// backoff end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

// envelope mirrors the fixed wire shape produced by the uplink codec.
type envelope struct {
	DeviceID  string          `json:"deviceId"`
	MessageID uint32          `json:"messageId"`
	TS        uint32          `json:"ts"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// dedup remembers recently seen message ids per device. Ids wrap at 32
// bits and only need to be unique within a freshness window, so the set
// is reset once it grows past a bound instead of tracking forever.
type dedup struct {
	mu   sync.Mutex
	seen map[string]map[uint32]struct{}
}

const dedupWindow = 4096

func newDedup() *dedup {
	return &dedup{seen: make(map[string]map[uint32]struct{})}
}

// remember records the id and reports whether it was already present.
func (d *dedup) remember(device string, id uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.seen[device]
	if ids == nil {
		ids = make(map[uint32]struct{})
		d.seen[device] = ids
	}
	if _, dup := ids[id]; dup {
		return true
	}
	if len(ids) >= dedupWindow {
		ids = make(map[uint32]struct{})
		d.seen[device] = ids
	}
	ids[id] = struct{}{}
	return false
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	path := flag.String("path", "/api/uplink", "uplink endpoint path")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests answered with a failure code")
	failCode := flag.Int("fail-code", 7, "application code returned on injected failures")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	seen := newDedup()

	mux := http.NewServeMux()
	mux.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			slog.Warn("rejecting malformed envelope", "err", err)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"code":%d}`, 1)
			return
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			slog.Info("injected failure",
				"device", env.DeviceID, "messageId", env.MessageID)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"code":%d}`, *failCode)
			return
		}

		if seen.remember(env.DeviceID, env.MessageID) {
			slog.Debug("duplicate delivery acknowledged",
				"device", env.DeviceID, "messageId", env.MessageID)
		} else {
			slog.Info("event received",
				"device", env.DeviceID,
				"messageId", env.MessageID,
				"ts", env.TS,
				"type", env.Type,
				"payload", string(env.Payload))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":0}`)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("uplink-collector listening", "addr", *addr, "path", *path, "failRate", *failRate)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
