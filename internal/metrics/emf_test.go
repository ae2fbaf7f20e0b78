package metrics

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return &buf
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)

	New(Namespace).
		Dimension("Stage", "2").
		Metric("GenerationLatencyMs", 1234.5, UnitMilliseconds).
		Count("Attempts").
		Property("runId", "abc-123").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}

	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("expected namespace %s, got %v", Namespace, cw["Namespace"])
	}

	if doc["Stage"] != "2" {
		t.Errorf("expected Stage=2, got %v", doc["Stage"])
	}
	if doc["GenerationLatencyMs"] != 1234.5 {
		t.Errorf("expected GenerationLatencyMs=1234.5, got %v", doc["GenerationLatencyMs"])
	}
	if doc["Attempts"] != float64(1) {
		t.Errorf("expected Attempts=1, got %v", doc["Attempts"])
	}
	if doc["runId"] != "abc-123" {
		t.Errorf("expected runId=abc-123, got %v", doc["runId"])
	}
}

func TestRecorder_SingleLine(t *testing.T) {
	buf := captureOutput(t)

	New(Namespace).Count("A").Flush()
	New(Namespace).Count("B").Flush()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}

func TestRecorder_Duration(t *testing.T) {
	buf := captureOutput(t)

	New(Namespace).Duration("StageMs", 1500*time.Millisecond).Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc["StageMs"] != float64(1500) {
		t.Errorf("expected StageMs=1500, got %v", doc["StageMs"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)

	New("Test").Flush() // No metrics, no output

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Discard(t *testing.T) {
	SetOutput(io.Discard)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	New(Namespace).Count("Ignored").Flush()
}

func TestRecorder_DefaultDimensions(t *testing.T) {
	buf := captureOutput(t)
	SetDefaultDimension("Mode", "dry-run")
	t.Cleanup(func() { SetDefaultDimension("Mode", "") })

	New(Namespace).Dimension("Stage", "Block-in").Count("StagePassed").Flush()

	var doc struct {
		AWS struct {
			CloudWatchMetrics []struct {
				Dimensions [][]string
			}
		} `json:"_aws"`
		Mode string
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Mode != "dry-run" {
		t.Errorf("expected Mode=dry-run, got %q", doc.Mode)
	}
	dims := doc.AWS.CloudWatchMetrics[0].Dimensions[0]
	if strings.Join(dims, ",") != "Mode,Stage" {
		t.Errorf("expected dimensions [Mode Stage], got %v", dims)
	}

	SetDefaultDimension("Mode", "")
	buf.Reset()
	New(Namespace).Count("Runs").Flush()
	if strings.Contains(buf.String(), "dry-run") {
		t.Errorf("default dimension not removed: %s", buf.String())
	}
}
