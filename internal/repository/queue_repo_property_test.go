package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/remote-agent-terminal/client/internal/db"
	"github.com/remote-agent-terminal/client/internal/model"
)

// generateID generates a unique ID for testing.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TestQueueOrderingProperty verifies that for any sequence of timestamps,
// inserted in any order (including out of chronological order, as happens
// under wall-clock adjustments), ListBySession returns the records sorted by
// timestamp ascending.
func TestQueueOrderingProperty(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer testDB.Close()

	repo := NewQueueRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("read-back is ordered by timestamp ascending", prop.ForAll(
		func(timestamps []int64) bool {
			sessionName := "prop-" + generateID()

			for _, ts := range timestamps {
				action := &model.QueuedAction{
					ID:          generateID(),
					Timestamp:   ts,
					SessionName: sessionName,
					Kind:        model.ActionKindInput,
					Data:        "x",
				}
				if err := repo.Create(ctx, action); err != nil {
					t.Logf("failed to create action: %v", err)
					return false
				}
			}

			actions, err := repo.ListBySession(ctx, sessionName)
			if err != nil {
				t.Logf("failed to list actions: %v", err)
				return false
			}
			if len(actions) != len(timestamps) {
				t.Logf("expected %d actions, got %d", len(timestamps), len(actions))
				return false
			}

			for i := 1; i < len(actions); i++ {
				if actions[i-1].Timestamp > actions[i].Timestamp {
					t.Logf("order violated at %d: %d > %d", i, actions[i-1].Timestamp, actions[i].Timestamp)
					return false
				}
			}

			// Cleanup for next iteration
			repo.DeleteBySession(ctx, sessionName)

			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.Property("payloads survive the storage round trip", prop.ForAll(
		func(data string, cols, rows uint16) bool {
			sessionName := "prop-" + generateID()

			input := &model.QueuedAction{
				ID:          generateID(),
				Timestamp:   1,
				SessionName: sessionName,
				Kind:        model.ActionKindInput,
				Data:        data,
			}
			resize := &model.QueuedAction{
				ID:          generateID(),
				Timestamp:   2,
				SessionName: sessionName,
				Kind:        model.ActionKindResize,
				Cols:        cols,
				Rows:        rows,
			}
			if err := repo.Create(ctx, input); err != nil {
				return false
			}
			if err := repo.Create(ctx, resize); err != nil {
				return false
			}

			actions, err := repo.ListBySession(ctx, sessionName)
			if err != nil || len(actions) != 2 {
				return false
			}

			ok := actions[0].Kind == model.ActionKindInput && actions[0].Data == data &&
				actions[1].Kind == model.ActionKindResize && actions[1].Cols == cols && actions[1].Rows == rows

			repo.DeleteBySession(ctx, sessionName)

			return ok
		},
		gen.AnyString(),
		gen.UInt16(),
		gen.UInt16(),
	))

	properties.TestingRun(t)
}
