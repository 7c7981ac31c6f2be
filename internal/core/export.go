package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export formats supported by ExportTaskData.
const (
	ExportJSON = "json"
	ExportCSV  = "csv"
)

var csvHeader = []string{
	"id", "name", "description", "status", "priority", "agent_type",
	"progress", "created_at", "updated_at", "started_at", "completed_at",
	"scheduled_at", "cron_expression", "timezone",
}

// ExportTaskData serializes the current task snapshot. JSON is the full
// task array; CSV is a header row plus one row per task with RFC 4180
// quoting handled by encoding/csv.
func (e *Engine) ExportTaskData(format string) ([]byte, error) {
	tasks := e.store.ListTasks()
	switch format {
	case ExportJSON:
		return json.MarshalIndent(tasks, "", "  ")
	case ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		for _, t := range tasks {
			row := []string{
				t.ID,
				t.Name,
				t.Description,
				string(t.Status),
				string(t.Priority),
				string(t.AgentType),
				strconv.Itoa(t.Progress),
				formatTimestamp(&t.CreatedAt),
				formatTimestamp(&t.UpdatedAt),
				formatTimestamp(t.StartedAt),
				formatTimestamp(t.CompletedAt),
				formatTimestamp(t.ScheduledAt),
				t.CronExpression,
				t.Timezone,
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row for task %s: %w", t.ID, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("flush csv: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
