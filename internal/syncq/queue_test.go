package syncq

import (
	"encoding/json"
	"testing"
)

func TestQueueRoundtrip(t *testing.T) {
	t.Setenv("TBK_HOME", t.TempDir())

	queue, err := Load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("expected empty queue, got %d", len(queue))
	}

	cmd := Command{
		Method:         "POST",
		Path:           "/v1/bankroll/entries",
		Body:           map[string]any{"date": "2026-08-28", "score": json.Number("-12.50")},
		IdempotencyKey: "k-1",
	}
	if err := Push(cmd); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := Push(Command{Method: "POST", Path: "/v1/bankroll/entries", IdempotencyKey: "k-2"}); err != nil {
		t.Fatalf("push second: %v", err)
	}

	queue, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(queue) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(queue))
	}
	if queue[0].IdempotencyKey != "k-1" || queue[1].IdempotencyKey != "k-2" {
		t.Fatalf("order lost: %+v", queue)
	}
	if queue[0].Body["date"] != "2026-08-28" {
		t.Fatalf("body lost: %+v", queue[0].Body)
	}

	if err := Save(queue[1:]); err != nil {
		t.Fatalf("save remaining: %v", err)
	}
	queue, err = Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(queue) != 1 || queue[0].IdempotencyKey != "k-2" {
		t.Fatalf("expected only k-2 left, got %+v", queue)
	}
}
