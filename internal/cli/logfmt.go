package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Paintersrp/brood"
)

type logRecord struct {
	Timestamp time.Time `json:"ts"`
	Child     string    `json:"child"`
	ID        int64     `json:"id"`
	Worker    int       `json:"worker"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
}

func newLogRecord(event brood.Event) logRecord {
	level := event.Level
	if level == "" {
		level = "info"
	}
	source := event.Source
	if source == "" {
		source = brood.LogSourceSystem
	}
	return logRecord{
		Timestamp: event.Timestamp,
		Child:     event.Child,
		ID:        event.ID,
		Worker:    event.Worker,
		Level:     level,
		Message:   event.Message,
		Source:    source,
	}
}

func encodeLogEvent(enc *json.Encoder, stderr io.Writer, event brood.Event) {
	if enc == nil {
		return
	}
	record := newLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

func writePrettyEvent(w io.Writer, event brood.Event) {
	record := newLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	fmt.Fprintf(w, "%s %s %s\n", record.Timestamp.Format("15:04:05"), record.Child, record.Message)
}
