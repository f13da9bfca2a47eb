package signaling

import (
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"type":"welcome","client_id":"c-1","timestamp":"2026-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if env.Type != TypeWelcome || env.ClientID != "c-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if _, err := Decode([]byte(`{"sdp":"v=0"}`)); err == nil {
		t.Fatalf("expected missing type tag to fail")
	}
	if _, err := Decode([]byte(`{broken`)); err == nil {
		t.Fatalf("expected malformed json to fail")
	}

	// Unknown types decode so the transport can log and drop them.
	env, err = Decode([]byte(`{"type":"future_thing"}`))
	if err != nil {
		t.Fatalf("unexpected decode error for unknown type: %v", err)
	}
	if err := env.Validate(); err == nil {
		t.Fatalf("expected unknown type to fail validation")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	mid := "0"
	idx := uint16(0)
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "welcome", env: Envelope{Type: TypeWelcome, ClientID: "c-1"}},
		{name: "welcome without id", env: Envelope{Type: TypeWelcome}, wantErr: true},
		{name: "offer", env: NewOffer("v=0", "offer")},
		{name: "offer without sdp", env: NewOffer("", "offer"), wantErr: true},
		{name: "offer with answer type", env: NewOffer("v=0", "answer"), wantErr: true},
		{name: "answer", env: NewAnswer("v=0", "answer")},
		{name: "answer with rollback type", env: NewAnswer("v=0", "rollback"), wantErr: true},
		{name: "candidate", env: NewICECandidate(CandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx})},
		{name: "candidate empty", env: Envelope{Type: TypeICECandidate}, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["welcome", "offer", "answer", "ice_candidate"]},
		"client_id": {"type": "string"},
		"timestamp": {"type": "string"},
		"sdp": {"type": "string"},
		"sdpType": {"enum": ["offer", "answer"]},
		"candidate": {
			"type": "object",
			"required": ["candidate"],
			"properties": {
				"candidate": {"type": "string"},
				"sdpMid": {"type": "string"},
				"sdpMLineIndex": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false,
	"allOf": [
		{
			"if": {"properties": {"type": {"const": "offer"}}},
			"then": {"required": ["sdp", "sdpType"]}
		},
		{
			"if": {"properties": {"type": {"const": "answer"}}},
			"then": {"required": ["sdp", "sdpType"]}
		},
		{
			"if": {"properties": {"type": {"const": "ice_candidate"}}},
			"then": {"required": ["candidate"]}
		}
	]
}`

// TestWireContract pins the serialized shape of outbound envelopes against
// the schema the backend accepts.
func TestWireContract(t *testing.T) {
	t.Parallel()

	schema, err := jsonschema.CompileString("signaling-envelope.json", envelopeSchema)
	if err != nil {
		t.Fatalf("unexpected schema error: %v", err)
	}

	mid := "0"
	idx := uint16(0)
	envelopes := []Envelope{
		NewOffer("v=0", "offer"),
		NewAnswer("v=0", "answer"),
		NewICECandidate(CandidateInit{Candidate: "candidate:1 1 udp 2122260223 192.0.2.1 54555 typ host", SDPMid: &mid, SDPMLineIndex: &idx}),
	}

	for _, env := range envelopes {
		raw, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("unexpected marshal error: %v", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("unexpected unmarshal error: %v", err)
		}
		if err := schema.Validate(doc); err != nil {
			t.Fatalf("envelope %s violates wire contract: %v", env.Type, err)
		}
	}
}
