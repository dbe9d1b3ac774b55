package event

import (
	"errors"
	"testing"
)

func TestDecode_BareDetail(t *testing.T) {
	evt, err := Decode([]byte(`{"studyIdentifier":"S1","datastoreIdentifier":"D1","operation":"update"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.StudyIdentifier != "S1" || evt.DatastoreIdentifier != "D1" || evt.Operation != "update" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Envelope != nil {
		t.Errorf("expected no envelope, got %+v", evt.Envelope)
	}
}

func TestDecode_CloudWatchEnvelope(t *testing.T) {
	raw := `{
  "version": "0",
  "id": "6a7e8feb-b491-4cf7-a9f1-bf3703467718",
  "detail-type": "StudyUpdated",
  "source": "curie.datastore",
  "account": "111122223333",
  "time": "2026-10-15T10:00:00Z",
  "region": "ap-south-1",
  "resources": [],
  "detail": {"studyIdentifier":"S2","datastoreIdentifier":"D2","operation":"delete"}
}`
	evt, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.StudyIdentifier != "S2" || evt.DatastoreIdentifier != "D2" || evt.Operation != "delete" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Envelope == nil {
		t.Fatal("expected envelope")
	}
	if evt.Envelope.ID != "6a7e8feb-b491-4cf7-a9f1-bf3703467718" {
		t.Errorf("envelope id = %q", evt.Envelope.ID)
	}
	if evt.Envelope.DetailType != "StudyUpdated" {
		t.Errorf("detail type = %q", evt.Envelope.DetailType)
	}
	if evt.Envelope.Region != "ap-south-1" {
		t.Errorf("region = %q", evt.Envelope.Region)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not json", "{{{"},
		{"detail not object", `{"detail": 42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestMessage_Encode(t *testing.T) {
	body, err := Message{StudyID: "S1", DatastoreID: "D1", Operation: "update"}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"DICOMStudyId":"S1","DatastoreId":"D1","Operation":"update"}`
	if string(body) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}
