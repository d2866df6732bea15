package taskqueue

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Known reports whether t is a task type the worker can handle.
func (t TaskType) Known() bool {
	switch t {
	case TaskTypeRing, TaskTypeClaim, TaskTypeClaimManual, TaskTypeDismiss, TaskTypeSurveyAnswer, TaskTypeReport:
		return true
	}
	return false
}

// EncodeTask serializes a task for queues that cross process boundaries.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("taskqueue: encode %s task %s: %w", t.Type, t.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask is the inverse of EncodeTask. Payloads that decode to an
// unknown task type are rejected.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, fmt.Errorf("taskqueue: decode task: %w", err)
	}
	if !t.Type.Known() {
		return nil, fmt.Errorf("taskqueue: decode task %s: unknown type %q", t.ID, t.Type)
	}
	return &t, nil
}
