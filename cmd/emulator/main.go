// Command emulator registers a fleet of sensors against a running telemetry
// service and replays a week of readings for them, with a share of sensors
// silently skipping a report and a share reporting out-of-range values.
//
// Usage:
//
//	go run ./cmd/emulator -url http://localhost:8080 -first 10000 -last 10100
//
// With -brokers set, readings are published to the readings topic instead of
// being posted over HTTP. Sensors are always registered over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	kafkago "github.com/segmentio/kafka-go"
)

type options struct {
	url         string
	first       int
	last        int
	days        int
	step        time.Duration
	failureRate float64
	errorRate   float64
	seed        uint64
	brokers     string
	topic       string
}

// sensorPlan is one sensor the emulator registers.
type sensorPlan struct {
	ID   int
	Face int
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080", "telemetry service base URL")
	flag.IntVar(&opts.first, "first", 10000, "first sensor id")
	flag.IntVar(&opts.last, "last", 10100, "last sensor id (inclusive)")
	flag.IntVar(&opts.days, "days", 7, "days of readings to replay, starting with last week's Sunday")
	flag.DurationVar(&opts.step, "step", 24*time.Hour, "time between two readings of one sensor")
	flag.Float64Var(&opts.failureRate, "failure-rate", 0.1, "probability a sensor skips a report")
	flag.Float64Var(&opts.errorRate, "error-rate", 0.05, "probability a report is out of the normal range")
	flag.Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	flag.StringVar(&opts.brokers, "brokers", "", "comma-separated Kafka brokers; empty posts readings over HTTP")
	flag.StringVar(&opts.topic, "topic", "sensor-readings", "readings topic used with -brokers")
	flag.Parse()

	if err := opts.validate(); err != nil {
		flag.Usage()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed>>1))
	client := &http.Client{Timeout: 10 * time.Second}

	sensors := planSensors(rng, opts.first, opts.last)
	for _, s := range sensors {
		if err := postJSON(ctx, client, opts.url+"/api/v1/sensors", s.registerBody()); err != nil {
			log.Printf("register %d: %v", s.ID, err)
		}
	}
	log.Printf("registered %d sensors", len(sensors))

	start := telemetry.LastWeekStart(time.Now(), time.UTC)
	readings := planReadings(rng, sensors, start, opts)

	send := func(ctx context.Context, batch []domain.ReadingMessage) error {
		for _, r := range batch {
			if err := postJSON(ctx, client, opts.url+"/api/v1/readings", r); err != nil {
				log.Printf("reading %d: %v", *r.SensorID, err)
			}
		}
		return nil
	}
	if opts.brokers != "" {
		w := &kafkago.Writer{
			Addr:                   kafkago.TCP(strings.Split(opts.brokers, ",")...),
			Topic:                  opts.topic,
			Balancer:               &kafkago.Hash{},
			AllowAutoTopicCreation: true,
		}
		defer func() { _ = w.Close() }()
		send = func(ctx context.Context, batch []domain.ReadingMessage) error {
			return publishReadings(ctx, w, batch)
		}
	}

	if err := send(ctx, readings); err != nil {
		return fmt.Errorf("send readings: %w", err)
	}
	log.Printf("sent %d readings from %s", len(readings), start.Format(time.DateOnly))
	return nil
}

func (o options) validate() error {
	switch {
	case o.first < int(domain.MinSensorID) || o.last > int(domain.MaxSensorID) || o.first > o.last:
		return fmt.Errorf("sensor ids must satisfy %d <= first <= last <= %d", domain.MinSensorID, domain.MaxSensorID)
	case o.days <= 0 || o.step <= 0:
		return fmt.Errorf("days and step must be positive")
	case o.failureRate < 0 || o.failureRate > 1 || o.errorRate < 0 || o.errorRate > 1:
		return fmt.Errorf("rates must be within [0, 1]")
	}
	return nil
}

func (s sensorPlan) registerBody() map[string]int {
	return map[string]int{"sensorId": s.ID, "sensorFace": s.Face}
}

// planSensors assigns every id in [first, last] a random face.
func planSensors(rng *rand.Rand, first, last int) []sensorPlan {
	sensors := make([]sensorPlan, 0, last-first+1)
	for id := first; id <= last; id++ {
		face := domain.Faces[rng.IntN(len(domain.Faces))]
		sensors = append(sensors, sensorPlan{ID: id, Face: face.Code()})
	}
	return sensors
}

// planReadings walks from start in step increments for the configured number
// of days. Normal readings fall in [-5, 5], erroneous ones in [-10, 10].
func planReadings(rng *rand.Rand, sensors []sensorPlan, start time.Time, opts options) []domain.ReadingMessage {
	end := start.AddDate(0, 0, opts.days)
	var out []domain.ReadingMessage
	for t := start; t.Before(end); t = t.Add(opts.step) {
		for _, s := range sensors {
			if rng.Float64() < opts.failureRate {
				continue
			}
			temp := float64(rng.IntN(101)-50) / 10
			if rng.Float64() < opts.errorRate {
				temp = float64(rng.IntN(201)-100) / 10
			}
			id, ts := s.ID, t.Unix()
			out = append(out, domain.ReadingMessage{SensorID: &id, Temperature: &temp, Timestamp: &ts})
		}
	}
	return out
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func publishReadings(ctx context.Context, w *kafkago.Writer, readings []domain.ReadingMessage) error {
	msgs := make([]kafkago.Message, 0, len(readings))
	for _, r := range readings {
		value, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(strconv.Itoa(*r.SensorID)),
			Value: value,
			Time:  time.Unix(*r.Timestamp, 0),
		})
	}
	return w.WriteMessages(ctx, msgs...)
}

