package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Collector appends log records received on logs/<service> to
// <dir>/<service>.log.
type Collector struct {
	dir string
	// mu serialises appends; paho may deliver from several goroutines.
	mu sync.Mutex
}

func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// Handle stores one record published on topic.
func (c *Collector) Handle(topic string, payload []byte) error {
	service, err := serviceFromTopic(topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Open-append-close per record so external log rotation just works.
	f, err := os.OpenFile(filepath.Join(c.dir, service+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// slog records already end in a newline; other publishers may not.
	if _, err := f.Write(bytes.TrimRight(payload, "\n")); err != nil {
		return err
	}
	_, err = f.WriteString("\n")
	return err
}

func serviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "logs" {
		return "", fmt.Errorf("unexpected log topic %q", topic)
	}
	name := parts[1]
	if !serviceNamePattern.MatchString(name) || strings.Trim(name, ".") == "" {
		return "", fmt.Errorf("invalid service name %q", name)
	}
	return name, nil
}
