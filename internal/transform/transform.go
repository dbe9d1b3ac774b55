package transform

import (
	"errors"
	"fmt"

	"github.com/curie/studyrelay/internal/event"
)

// ErrMissingField is returned when a required study update field is empty.
var ErrMissingField = errors.New("missing required field")

// Transform maps a study update onto the queue message. Fields are copied
// verbatim; the operation is not interpreted.
func Transform(evt event.StudyUpdate) (event.Message, error) {
	switch {
	case evt.StudyIdentifier == "":
		return event.Message{}, fmt.Errorf("%w: studyIdentifier", ErrMissingField)
	case evt.DatastoreIdentifier == "":
		return event.Message{}, fmt.Errorf("%w: datastoreIdentifier", ErrMissingField)
	case evt.Operation == "":
		return event.Message{}, fmt.Errorf("%w: operation", ErrMissingField)
	}

	return event.Message{
		StudyID:     evt.StudyIdentifier,
		DatastoreID: evt.DatastoreIdentifier,
		Operation:   evt.Operation,
	}, nil
}
