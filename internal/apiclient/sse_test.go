package apiclient

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReadSSEDispatchesDataPayloads(t *testing.T) {
	stream := "event: snapshot\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		": comment line\n" +
		"data: {\"b\":2}\n" +
		"\n"

	var payloads []string
	err := readSSE(strings.NewReader(stream), func(raw json.RawMessage) {
		payloads = append(payloads, string(raw))
	})
	if err != nil {
		t.Fatalf("readSSE failed: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d: %v", len(payloads), payloads)
	}
	if payloads[0] != `{"a":1}` || payloads[1] != `{"b":2}` {
		t.Fatalf("unexpected payloads: %v", payloads)
	}
}

func TestReadSSEIgnoresTrailingPartialEvent(t *testing.T) {
	stream := "data: {\"a\":1}\n\ndata: {\"b\":"

	var payloads []string
	err := readSSE(strings.NewReader(stream), func(raw json.RawMessage) {
		payloads = append(payloads, string(raw))
	})
	if err != nil {
		t.Fatalf("readSSE failed: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("expected 1 complete payload, got %d", len(payloads))
	}
}
