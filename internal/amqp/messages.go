package amqp

import (
	"encoding/json"
	"time"

	"ricorrenze/internal/core"
)

// OccurrenceSyncMessage announces a materialized occurrence. It carries only
// identifiers; the worker loads the transaction from the database.
type OccurrenceSyncMessage struct {
	TransactionID  string    `json:"transaction_id"`
	RuleID         string    `json:"rule_id"`
	OwnerID        string    `json:"owner_id"`
	OccurrenceDate string    `json:"occurrence_date"`
	RuleVersion    int64     `json:"rule_version"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewOccurrenceSyncMessage(tx core.GeneratedTransaction, ruleVersion int64) *OccurrenceSyncMessage {
	return &OccurrenceSyncMessage{
		TransactionID:  tx.ID,
		RuleID:         tx.RuleID,
		OwnerID:        tx.OwnerID,
		OccurrenceDate: tx.OccurrenceDate.String(),
		RuleVersion:    ruleVersion,
		Timestamp:      time.Now(),
	}
}

func (m *OccurrenceSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func OccurrenceSyncMessageFromJSON(data []byte) (*OccurrenceSyncMessage, error) {
	var msg OccurrenceSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeletionMessage announces a deletion. Scope is "occurrence", "future" or
// "all"; TransactionID is only set for single occurrences.
type DeletionMessage struct {
	Scope         string    `json:"scope"`
	OwnerID       string    `json:"owner_id"`
	RuleID        string    `json:"rule_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Removed       int64     `json:"removed"`
	Timestamp     time.Time `json:"timestamp"`
}

func (m *DeletionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func DeletionMessageFromJSON(data []byte) (*DeletionMessage, error) {
	var msg DeletionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
