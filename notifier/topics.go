package notifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

type topicRecord struct {
	EventCode int    `json:"event_code"`
	TopicID   int64  `json:"topic_id"`
	CreatedAt string `json:"created_at"`
}

type topicsFile struct {
	Topics map[string]topicRecord `json:"topics"`
}

// TopicStore maps webhook event codes to forum topic IDs so each
// event type lands in its own thread. The mapping is persisted to a
// JSON file and survives restarts.
type TopicStore struct {
	path   string
	mu     sync.Mutex
	topics map[string]topicRecord
}

func NewTopicStore(path string) (*TopicStore, error) {
	s := &TopicStore{path: path, topics: map[string]topicRecord{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	var f topicsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode topics file: %w", err)
	}
	if f.Topics != nil {
		s.topics = f.Topics
	}
	return s, nil
}

// Get returns the topic ID registered for an event code.
func (s *TopicStore) Get(eventCode int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.topics[strconv.Itoa(eventCode)]
	if !ok {
		return 0, false
	}
	return rec.TopicID, true
}

// Put registers a topic ID for an event code and persists the file.
func (s *TopicStore) Put(eventCode int, topicID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics[strconv.Itoa(eventCode)] = topicRecord{
		EventCode: eventCode,
		TopicID:   topicID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(topicsFile{Topics: s.topics}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode topics file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create topics directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write topics file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace topics file: %w", err)
	}
	return nil
}
