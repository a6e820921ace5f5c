package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	KeyCurrentInput   = "user_input"
	KeyInputHistory   = "user_input_history"
	KeyInstallationID = "therapy_session_id"

	DefaultHistoryLimit = 50
)

// InputLog records transcribed utterances: the latest one, a bounded
// most-recent-first history, and an installation id generated once.
type InputLog struct {
	store Store
	limit int
	now   func() time.Time
}

func NewInputLog(store Store, limit int) *InputLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &InputLog{
		store: store,
		limit: limit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (l *InputLog) Limit() int { return l.limit }

// InstallationID returns the persisted installation id, creating it on
// first use.
func (l *InputLog) InstallationID(ctx context.Context) (string, error) {
	var id string
	err := l.store.Update(ctx, KeyInstallationID, func(cur []byte, ok bool) ([]byte, error) {
		if ok && json.Unmarshal(cur, &id) == nil && strings.TrimSpace(id) != "" {
			return cur, nil
		}
		id = uuid.NewString()
		return json.Marshal(id)
	})
	if err != nil {
		return "", fmt.Errorf("installation id: %w", err)
	}
	return id, nil
}

// Save stores text as the current input and prepends it to the history.
func (l *InputLog) Save(ctx context.Context, text string) (InputRecord, error) {
	installationID, err := l.InstallationID(ctx)
	if err != nil {
		return InputRecord{}, err
	}
	rec := InputRecord{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: l.now(),
		SessionID: installationID,
	}

	current, err := json.Marshal(rec)
	if err != nil {
		return InputRecord{}, fmt.Errorf("encode input: %w", err)
	}
	if err := l.store.Set(ctx, KeyCurrentInput, current); err != nil {
		return InputRecord{}, fmt.Errorf("save current input: %w", err)
	}

	err = l.store.Update(ctx, KeyInputHistory, func(cur []byte, ok bool) ([]byte, error) {
		var history []InputRecord
		if ok && len(cur) > 0 {
			if err := json.Unmarshal(cur, &history); err != nil {
				// Corrupt history is discarded.
				history = nil
			}
		}
		history = append([]InputRecord{rec}, history...)
		if len(history) > l.limit {
			history = history[:l.limit]
		}
		return json.Marshal(history)
	})
	if err != nil {
		return InputRecord{}, fmt.Errorf("save input history: %w", err)
	}
	return rec, nil
}

// Current returns the most recently saved input, or nil when none exists.
func (l *InputLog) Current(ctx context.Context) (*InputRecord, error) {
	raw, ok, err := l.store.Get(ctx, KeyCurrentInput)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec InputRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode current input: %w", err)
	}
	return &rec, nil
}

// History returns saved inputs, most recent first.
func (l *InputLog) History(ctx context.Context) ([]InputRecord, error) {
	raw, ok, err := l.store.Get(ctx, KeyInputHistory)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []InputRecord{}, nil
	}
	var history []InputRecord
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode input history: %w", err)
	}
	if history == nil {
		history = []InputRecord{}
	}
	return history, nil
}
