package model

import (
	"encoding/json"
	"testing"
)

func TestEvent_Validate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		ev      Event
		wantErr error
	}{
		{"Valid", Event{ApplicationID: "app", EventName: "signup"}, nil},
		{"MissingApplication", Event{EventName: "signup"}, errEventApplicationRequired},
		{"BlankApplication", Event{ApplicationID: "  ", EventName: "signup"}, errEventApplicationRequired},
		{"MissingName", Event{ApplicationID: "app"}, errEventNameRequired},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ev.Validate(); err != tc.wantErr {
				t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestEvent_EnvironmentOrDefault(t *testing.T) {
	ev := Event{}
	if got := ev.EnvironmentOrDefault(); got != DefaultEnvironment {
		t.Fatalf("got %q, want %q", got, DefaultEnvironment)
	}
	ev.Environment = "test"
	if got := ev.EnvironmentOrDefault(); got != "test" {
		t.Fatalf("got %q, want test", got)
	}
}

func TestEnvironmentSettings_Module(t *testing.T) {
	env := &EnvironmentSettings{Modules: []ModuleDescription{
		{Name: "welcome", Src: "./welcome.js"},
		{Name: "billing", Src: "./billing.js"},
	}}
	if m := env.Module("billing"); m == nil || m.Src != "./billing.js" {
		t.Fatalf("Module(billing) = %+v", m)
	}
	if m := env.Module("ghost"); m != nil {
		t.Fatalf("Module(ghost) = %+v, want nil", m)
	}
	var nilEnv *EnvironmentSettings
	if m := nilEnv.Module("welcome"); m != nil {
		t.Fatal("nil settings should find nothing")
	}
}

func TestAppUser_MarshalJSON(t *testing.T) {
	doc := AppUser{ID: "u1", Document: json.RawMessage(`{"_id":"u1","email":"a@example.com"}`)}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"_id":"u1","email":"a@example.com"}` {
		t.Fatalf("got %s", data)
	}

	plain := AppUser{ID: "u2", ApplicationID: "app"}
	data, err = json.Marshal(plain)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["_id"] != "u2" || got["application"] != "app" {
		t.Fatalf("got %s", data)
	}
}

func TestJobMessage_WireFields(t *testing.T) {
	data, err := json.Marshal(JobMessage{ApplicationID: "app", JobID: "job-1", ModuleName: "welcome"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"applicationId", "correlationId", "eventId", "moduleName", "modulePath", "environment", "applicationPath", "context", "jobId", "event", "application", "module", "title"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing %q", key)
		}
	}
	for _, key := range []string{"user", "bucketId"} {
		if _, ok := got[key]; ok {
			t.Errorf("%q should be omitted when empty", key)
		}
	}
}
