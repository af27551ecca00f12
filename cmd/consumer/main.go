package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

// The consumer mirrors the order-status change feed into Redis so read-heavy
// surfaces (trackers, driver apps reconnecting) can poll cheap keys instead
// of Postgres. Stale events are dropped by version.

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total status events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	msgsStale = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_stale_total",
		Help: "Total events dropped as stale by version",
	})
	cacheUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_updates_total",
		Help: "Total successful cache updates",
	})
	cacheErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_cache_errors_total",
		Help: "Total cache errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsStale, cacheUpdates, cacheErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "order-status"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "dispatch-status-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	cache := &redisCache{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var ev models.StatusEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		applied, err := applyWithRetry(ctx, cache, ev, 3, 200*time.Millisecond)
		if err != nil {
			cacheErrors.Inc()
			log.Printf("cache update failed for order=%s: %v", ev.OrderID, err)
			continue
		}
		if !applied {
			msgsStale.Inc()
			continue
		}
		cacheUpdates.Inc()
	}
}

// StatusCache is the subset of cache operations we need for tests and
// production.
type StatusCache interface {
	CurrentVersion(ctx context.Context, orderID string) (int64, error)
	Store(ctx context.Context, ev models.StatusEvent) error
}

type redisCache struct{ c *redis.Client }

func statusKey(orderID string) string { return "order:status:" + orderID }

func (r *redisCache) CurrentVersion(ctx context.Context, orderID string) (int64, error) {
	v, err := r.c.HGet(ctx, statusKey(orderID), "version").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (r *redisCache) Store(ctx context.Context, ev models.StatusEvent) error {
	return r.c.HSet(ctx, statusKey(ev.OrderID), map[string]interface{}{
		"kind":    string(ev.Kind),
		"status":  ev.Status,
		"version": strconv.FormatInt(ev.Version, 10),
		"at":      ev.At.Format(time.RFC3339),
	}).Err()
}

// applyWithRetry writes the event to the cache unless it is stale, retrying
// transient failures with exponential backoff. Returns whether it applied.
func applyWithRetry(ctx context.Context, cache StatusCache, ev models.StatusEvent, attempts int, delay time.Duration) (bool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		cur, err := cache.CurrentVersion(ctx, ev.OrderID)
		if err != nil {
			lastErr = err
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if ev.Version <= cur {
			return false, nil
		}
		if err := cache.Store(ctx, ev); err != nil {
			lastErr = err
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return true, nil
	}
	return false, lastErr
}
