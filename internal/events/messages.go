package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of change made to a transaction.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// TransactionChanged announces that a user's transactions changed, so every
// instance can drop the cached reads of that user.
type TransactionChanged struct {
	UserID        string    `json:"uid"`
	TransactionID string    `json:"transaction_id"`
	Action        Action    `json:"action"`
	Origin        string    `json:"origin"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTransactionChanged stamps a change event with the current time.
func NewTransactionChanged(uid, txID string, action Action) TransactionChanged {
	return TransactionChanged{
		UserID:        uid,
		TransactionID: txID,
		Action:        action,
		Timestamp:     time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m TransactionChanged) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionChangedFromJSON decodes and checks a message body.
func TransactionChangedFromJSON(data []byte) (TransactionChanged, error) {
	var msg TransactionChanged
	if err := json.Unmarshal(data, &msg); err != nil {
		return TransactionChanged{}, err
	}
	if msg.UserID == "" {
		return TransactionChanged{}, fmt.Errorf("transaction changed message without uid")
	}
	switch msg.Action {
	case ActionCreated, ActionUpdated, ActionDeleted:
	default:
		return TransactionChanged{}, fmt.Errorf("unknown action %q", msg.Action)
	}
	return msg, nil
}
