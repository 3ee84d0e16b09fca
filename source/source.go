// Package source provides the latest vehicle counts produced by the detector.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/afero"
)

// ErrUnavailable means the detector has not produced anything readable yet.
// It is recoverable; callers back off and retry.
var ErrUnavailable = errors.New("count source unavailable")

// CountSource returns the raw text of the most recent count vector.
type CountSource interface {
	Latest(ctx context.Context) (string, error)
}

// File reads counts from a file the detector rewrites in place.
type File struct {
	fs   afero.Fs
	path string
}

func NewFile(path string) *File {
	return NewFileFs(afero.NewOsFs(), path)
}

func NewFileFs(fsys afero.Fs, path string) *File {
	return &File{fs: fsys, path: path}
}

func (f *File) Path() string { return f.path }

func (f *File) Latest(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s missing", ErrUnavailable, f.path)
		}
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Topic keeps the last payload received on an MQTT topic.
type Topic struct {
	topic    string
	mu       sync.RWMutex
	latest   string
	received time.Time
	seen     bool
}

func NewTopic(topic string) *Topic {
	return &Topic{topic: topic}
}

func (t *Topic) Name() string { return t.topic }

// Handle is the MQTT message handler for the counts topic.
func (t *Topic) Handle(client MQTT.Client, msg MQTT.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	t.mu.Lock()
	t.latest = payload
	t.received = time.Now()
	t.seen = true
	t.mu.Unlock()
}

func (t *Topic) Latest(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.seen {
		return "", fmt.Errorf("%w: nothing received on %s", ErrUnavailable, t.topic)
	}
	return t.latest, nil
}

// Received is the arrival time of the last message, zero if none.
func (t *Topic) Received() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.received
}

// Static always returns the same text. Used for dry runs and tests.
type Static string

func (s Static) Latest(ctx context.Context) (string, error) {
	return string(s), ctx.Err()
}
