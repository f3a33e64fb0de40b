package wire

import "testing"

func TestParseRequestValid(t *testing.T) {
	line := []byte(`{"id":"r1","op":"session.start","payload":{},"context":{"pid":1,"cwd":"/tmp"}}`)
	req, errResp := ParseRequest(line)
	if errResp != nil {
		t.Fatalf("unexpected error: %v", errResp)
	}
	if req.ID != "r1" || req.Op != "session.start" {
		t.Errorf("got %+v", req)
	}
}

func TestParseRequestDefaultsPayload(t *testing.T) {
	line := []byte(`{"id":"r1","op":"daemon.ping","context":{"pid":1,"cwd":"/tmp"}}`)
	req, errResp := ParseRequest(line)
	if errResp != nil {
		t.Fatalf("unexpected error: %v", errResp)
	}
	if req.Payload == nil {
		t.Errorf("expected non-nil default payload")
	}
}

func TestParseRequestMissingID(t *testing.T) {
	line := []byte(`{"op":"daemon.ping","context":{}}`)
	_, errResp := ParseRequest(line)
	if errResp == nil {
		t.Fatalf("expected validation error for missing id")
	}
}

func TestParseRequestMalformedJSONBestEffortID(t *testing.T) {
	line := []byte(`{"id":"r9", not json`)
	_, errResp := ParseRequest(line)
	if errResp == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	if errResp.Details["id"] != "r9" {
		t.Errorf("got details %+v, want best-effort id r9", errResp.Details)
	}
}

func TestParseRequestMalformedJSONUnknownID(t *testing.T) {
	line := []byte(`not json at all`)
	_, errResp := ParseRequest(line)
	if errResp == nil {
		t.Fatalf("expected error")
	}
	if errResp.Details["id"] != "unknown" {
		t.Errorf("got details %+v, want unknown id", errResp.Details)
	}
}

func TestIsMutatingTable(t *testing.T) {
	cases := map[string]bool{
		"daemon.ping":            false,
		"daemon.status":          false,
		"session.start":          true,
		"session.stop":           true,
		"session.status":         false,
		"page.open":              true,
		"page.list":              false,
		"observe.list":           false,
		"network.list":           false,
		"runtime.eval":           true,
		"console.list":           false,
		"console.clear":          true,
		"network.setBlockedURLs": true,
	}
	for op, want := range cases {
		if got := IsMutating(op); got != want {
			t.Errorf("IsMutating(%q) = %v, want %v", op, got, want)
		}
	}
}
