package listen

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogSink writes events as structured log lines, in text or JSON mode.
//
// Example text output:
//
//	[node_complete] execID=exec-1 nodeID=stepA status=SUCCESS
//
// Example JSON output:
//
//	{"executionID":"exec-1","nodeID":"stepA","step":1,"msg":"node_complete","meta":{"status":"SUCCESS"}}
type LogSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogSink creates a LogSink writing to w (os.Stdout if w is nil).
func NewLogSink(w io.Writer, jsonMode bool) *LogSink {
	if w == nil {
		w = os.Stdout
	}
	return &LogSink{writer: w, jsonMode: jsonMode}
}

func (l *LogSink) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogSink) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		ExecutionID string                 `json:"executionID"`
		NodeID      string                 `json:"nodeID,omitempty"`
		Step        int                    `json:"step"`
		Msg         string                 `json:"msg"`
		Meta        map[string]interface{} `json:"meta,omitempty"`
	}{event.ExecutionID, event.NodeID, event.Step, event.Msg, event.Meta})
	if err != nil {
		fmt.Fprintf(l.writer, "[log_sink_error] %v\n", err)
		return
	}
	fmt.Fprintln(l.writer, string(data))
}

func (l *LogSink) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] execID=%s", event.Msg, event.ExecutionID)
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " nodeID=%s", event.NodeID)
	}
	for k, v := range event.Meta {
		fmt.Fprintf(l.writer, " %s=%v", k, v)
	}
	fmt.Fprintln(l.writer)
}
