package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Forwarder pushes JSON documents to a fixed set of webhook URLs from a
// small worker pool. Forward never blocks; work is dropped when the queue is
// full.
type Forwarder struct {
	URLs      []string `mapstructure:"urls"`
	Workers   int64    `mapstructure:"workers"`
	TimeoutMs int64    `mapstructure:"timeout_ms"`
	Enabled   bool     `mapstructure:"enabled"`

	queue   chan forwardJob
	client  *http.Client
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

type forwardJob struct {
	url  string
	body []byte
}

func (f *Forwarder) MakeForwarder() error {
	err := Config.UnmarshalKey("forwarder", f)
	if err != nil {
		Logger.Error().Msgf("Error loading forwarder config: %v", err)
		return err
	}
	return f.Start()
}

// Start launches the workers. It is a no-op for a disabled forwarder.
func (f *Forwarder) Start() error {
	if !f.Enabled {
		return nil
	}
	if f.Workers < 1 {
		return fmt.Errorf("forwarder needs at least one worker, got %d", f.Workers)
	}
	timeout := time.Duration(f.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	f.client = &http.Client{Timeout: timeout}
	f.queue = make(chan forwardJob, f.Workers*4)
	for i := 0; i < int(f.Workers); i++ {
		f.wg.Add(1)
		go f.forward_worker()
	}
	Logger.Info().Msgf("forwarding snapshots to %d url(s) with %d worker(s)", len(f.URLs), f.Workers)
	return nil
}

func (f *Forwarder) Forward(payload interface{}) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.Enabled || f.queue == nil || f.stopped {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		Logger.Error().Msgf("Error marshalling forward payload: %v", err)
		return
	}
	for _, url := range f.URLs {
		select {
		case f.queue <- forwardJob{url: url, body: body}:
		default:
			Logger.Warn().Msgf("forward queue full, dropping update for %s", url)
		}
	}
}

// Stop closes the queue and waits for in-flight posts to finish.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.queue == nil || f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	close(f.queue)
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Forwarder) forward_worker() {
	defer f.wg.Done()
	for job := range f.queue {
		f.process_job(job)
	}
}

func (f *Forwarder) process_job(job forwardJob) {
	req, err := http.NewRequest("POST", job.url, bytes.NewReader(job.body))
	if err != nil {
		Logger.Warn().Msgf("Unable to build request for %v: %v", job.url, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		Logger.Warn().Msgf("Unable to forward to %v: %v", job.url, err.Error())
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			Logger.Error().Msgf("Error closing response body: %v", closeErr)
		}
	}()
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		Logger.Warn().Msgf("non-2xx code received from %v: %d", job.url, resp.StatusCode)
	}
}
