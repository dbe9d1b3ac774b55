// Package event defines the study update notification consumed by the relay
// and the normalized message it places on the queue.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// ErrMalformed is returned when a payload cannot be decoded as a study update.
var ErrMalformed = errors.New("malformed study update event")

// StudyUpdate is the inbound state-change notification. The JSON field names are
// the wire contract with upstream producers.
type StudyUpdate struct {
	StudyIdentifier     string `json:"studyIdentifier"`
	DatastoreIdentifier string `json:"datastoreIdentifier"`
	Operation           string `json:"operation"`

	// Envelope carries receipt metadata when the event arrived wrapped in an
	// EventBridge envelope. Used for logging only.
	Envelope *Envelope `json:"envelope,omitempty"`
}

// Envelope is the receipt context of an EventBridge/CloudWatch event.
type Envelope struct {
	ID         string    `json:"id,omitempty"`
	Source     string    `json:"source,omitempty"`
	DetailType string    `json:"detailType,omitempty"`
	Account    string    `json:"account,omitempty"`
	Region     string    `json:"region,omitempty"`
	Time       time.Time `json:"time,omitempty"`
}

// Message is the normalized payload placed on the queue.
type Message struct {
	StudyID     string `json:"DICOMStudyId"`
	DatastoreID string `json:"DatastoreId"`
	Operation   string `json:"Operation"`
}

// Encode serializes the message as the queue body.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a raw payload into a StudyUpdate. Both an EventBridge envelope
// (fields under "detail") and a bare detail object are accepted.
func Decode(raw []byte) (StudyUpdate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return StudyUpdate{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var probe struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return StudyUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(probe.Detail) == 0 {
		var evt StudyUpdate
		if err := json.Unmarshal(raw, &evt); err != nil {
			return StudyUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return evt, nil
	}

	var cw events.CloudWatchEvent
	if err := json.Unmarshal(raw, &cw); err != nil {
		return StudyUpdate{}, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	return FromCloudWatch(cw)
}

// FromCloudWatch extracts a StudyUpdate from an EventBridge/CloudWatch event.
func FromCloudWatch(cw events.CloudWatchEvent) (StudyUpdate, error) {
	var evt StudyUpdate
	if err := json.Unmarshal(cw.Detail, &evt); err != nil {
		return StudyUpdate{}, fmt.Errorf("%w: detail: %v", ErrMalformed, err)
	}
	evt.Envelope = &Envelope{
		ID:         cw.ID,
		Source:     cw.Source,
		DetailType: cw.DetailType,
		Account:    cw.AccountID,
		Region:     cw.Region,
		Time:       cw.Time,
	}
	return evt, nil
}
