package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeKeepsRawTimestamp(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC)
	data, err := json.Marshal(Wrap(JoinedRaw{ID: "usr_1111", Name: "Alice", At: at}))
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	got, err := env.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	raw, ok := got.(JoinedRaw)
	if !ok {
		t.Fatalf("expected JoinedRaw, got %T", got)
	}
	if !raw.At.Equal(at) || raw.Name != "Alice" {
		t.Errorf("unexpected event %+v", raw)
	}
}

func TestEnvelopeOmitsProfileForRawEvents(t *testing.T) {
	env := Wrap(LeftRaw{ID: "usr_1111"})
	if env.Profile != nil {
		t.Error("raw events must not carry a profile")
	}
	env = Wrap(Left{ID: "usr_1111", Profile: Profile{DisplayName: "Alice"}})
	if env.Profile == nil || env.Profile.DisplayName != "Alice" {
		t.Errorf("enriched event lost its profile: %+v", env)
	}
}

func TestUnwrapUnknownKind(t *testing.T) {
	if _, err := (Envelope{Kind: "nope"}).Unwrap(); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestWrapCarriesKindAndUser(t *testing.T) {
	env := Wrap(AutoBanned{ID: "usr_2222", AvatarFileID: "file_x"})
	if env.Kind != KindAutoBanned {
		t.Errorf("kind: got %q", env.Kind)
	}
	if env.UserID != "usr_2222" || env.AvatarFileID != "file_x" {
		t.Errorf("unexpected envelope %+v", env)
	}
}
