package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// Export serializes events in the requested format, defaulting to JSON.
func Export(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return exportJSON(events)
	}
}

func exportJSON(events []*Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func exportNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// csvColumns fixes the CSV column order; csvRow must match it.
var csvColumns = []string{
	"ID",
	"Timestamp",
	"EventType",
	"Status",
	"Provider",
	"Subject",
	"Email",
	"Username",
	"Downstream",
	"AccountID",
	"IPAddress",
	"RequestID",
	"Method",
	"Path",
	"Message",
	"ErrorMessage",
}

func csvRow(event *Event) []string {
	return []string{
		strconv.FormatInt(event.ID, 10),
		event.Timestamp.Format("2006-01-02 15:04:05"),
		string(event.EventType),
		string(event.Status),
		event.Provider,
		event.Subject,
		event.Email,
		event.Username,
		event.Downstream,
		event.AccountID,
		event.IPAddress,
		event.RequestID,
		event.Method,
		event.Path,
		event.Message,
		event.ErrorMessage,
	}
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvColumns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, event := range events {
		if err := writer.Write(csvRow(event)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
