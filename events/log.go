package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Audit files are named by the local business day in UTC+8.
var auditZone = time.FixedZone("UTC+8", 8*3600)

const authorizationPreviewLen = 20

// EntryMetadata records request-level facts useful for debugging
// without persisting the full headers.
type EntryMetadata struct {
	Authorization string `json:"authorization"`
	BodySize      int    `json:"body_size"`
}

// Entry is one line of the daily audit log.
type Entry struct {
	Timestamp        string          `json:"timestamp"`
	EventCode        int             `json:"event_code"`
	ShopID           int64           `json:"shop_id"`
	EventData        json.RawMessage `json:"event_data,omitempty"`
	Metadata         EntryMetadata   `json:"metadata"`
	ProcessingStatus map[string]any  `json:"processing_status,omitempty"`
}

// DayStatistics summarizes one day of audit entries.
type DayStatistics struct {
	Date             string      `json:"date"`
	TotalEvents      int         `json:"total_events"`
	EventsByCode     map[int]int `json:"events_by_code"`
	UniqueShops      int         `json:"unique_shops"`
	DeliveryFailures int         `json:"delivery_failures"`
}

// Log appends webhook audit entries to a JSON-lines file per day.
// Writes are serialized; a single receiver instance owns the files.
type Log struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

func NewLog(dir string, logger *slog.Logger) *Log {
	return &Log{dir: dir, logger: logger, now: time.Now}
}

// TruncateAuthorization returns a safe preview of the signature
// header for audit entries.
func TruncateAuthorization(header string) string {
	if len(header) <= authorizationPreviewLen {
		return header
	}
	return header[:authorizationPreviewLen] + "..."
}

func (l *Log) fileForDate(date string) string {
	return filepath.Join(l.dir, "webhook_events_"+date+".json")
}

// Today returns the current business date in the audit timezone.
func (l *Log) Today() string {
	return l.now().In(auditZone).Format("2006-01-02")
}

// Append writes one entry to today's file, stamping the timestamp if
// the caller left it empty.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().In(auditZone)
	if entry.Timestamp == "" {
		entry.Timestamp = now.Format(time.RFC3339)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := l.fileForDate(now.Format("2006-01-02"))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ReadDay returns all parseable entries for a date (YYYY-MM-DD).
// Corrupt lines are skipped so one bad write never hides a whole day.
func (l *Log) ReadDay(date string) ([]Entry, error) {
	f, err := os.Open(l.fileForDate(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file for %s: %w", date, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Warn("skipping corrupt audit line",
				slog.String("date", date),
				slog.Any("error", err),
			)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read audit file for %s: %w", date, err)
	}
	return entries, nil
}

// Statistics aggregates one day of entries.
func (l *Log) Statistics(date string) (DayStatistics, error) {
	entries, err := l.ReadDay(date)
	if err != nil {
		return DayStatistics{}, err
	}

	stats := DayStatistics{
		Date:         date,
		TotalEvents:  len(entries),
		EventsByCode: map[int]int{},
	}
	shops := map[int64]bool{}
	for _, e := range entries {
		stats.EventsByCode[e.EventCode]++
		shops[e.ShopID] = true
		if deliveryFailed(e.ProcessingStatus) {
			stats.DeliveryFailures++
		}
	}
	stats.UniqueShops = len(shops)
	return stats, nil
}

// deliveryFailed reports whether an entry reached neither the queue
// nor the fallback endpoint.
func deliveryFailed(status map[string]any) bool {
	if queued, ok := nestedBool(status, "queue", "queued"); ok && queued {
		return false
	}
	if forwarded, ok := nestedBool(status, "forwarder", "forwarded"); ok && forwarded {
		return false
	}
	_, hasQueue := status["queue"]
	_, hasForwarder := status["forwarder"]
	return hasQueue || hasForwarder
}

func nestedBool(status map[string]any, section, key string) (bool, bool) {
	m, ok := status[section].(map[string]any)
	if !ok {
		return false, false
	}
	v, ok := m[key].(bool)
	return v, ok
}
