package games

import (
	"context"
	"testing"
)

func TestSaveRejectsEmptyGame(t *testing.T) {
	svc := NewService(nil, nil)
	_, err := svc.Save(context.Background(), "u1", Game{
		Glance: Glance{HandsAnalyzed: 0},
	})
	if err != ErrEmptyGame {
		t.Fatalf("expected ErrEmptyGame, got %v", err)
	}
}
