package domain

import "testing"

func TestEntry_Document(t *testing.T) {
	e := &Entry{
		ID:             "E1",
		TargetFiles:    []string{"a.go", "b.go"},
		AgentID:        "agent",
		Intent:         "intent",
		ReasoningTrace: "trace",
		Tags:           []string{"x"},
		RejectedAlternatives: []RejectedAlternative{
			{Name: "Redis", Reason: "extra service"},
			{Name: "Memcached"},
		},
	}

	doc := e.Document()

	if doc.ID != "E1" {
		t.Errorf("ID = %q, want %q", doc.ID, "E1")
	}
	if len(doc.Files) != 2 {
		t.Errorf("Files = %v, want 2 paths", doc.Files)
	}
	if want := "Redis extra service\nMemcached"; doc.Alternatives != want {
		t.Errorf("Alternatives = %q, want %q", doc.Alternatives, want)
	}
}
