// Package signaling defines the JSON wire contract exchanged with the
// inference backend over the signaling socket.
package signaling

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the signaling message union.
type MessageType string

const (
	TypeWelcome      MessageType = "welcome"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
)

// CandidateInit mirrors the browser-style ICE candidate payload.
type CandidateInit struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Envelope is the flat tagged form every signaling message travels in.
// Exactly one welcome is expected per socket; it assigns the session client_id.
type Envelope struct {
	Type      MessageType    `json:"type"`
	ClientID  string         `json:"client_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	SDP       string         `json:"sdp,omitempty"`
	SDPType   string         `json:"sdpType,omitempty"`
	Candidate *CandidateInit `json:"candidate,omitempty"`
}

// NewOffer builds an offer envelope from a local session description.
func NewOffer(sdp string, sdpType string) Envelope {
	return Envelope{Type: TypeOffer, SDP: sdp, SDPType: sdpType}
}

// NewAnswer builds an answer envelope from a local session description.
func NewAnswer(sdp string, sdpType string) Envelope {
	return Envelope{Type: TypeAnswer, SDP: sdp, SDPType: sdpType}
}

// NewICECandidate builds a trickle-ICE envelope for one local candidate.
func NewICECandidate(candidate CandidateInit) Envelope {
	return Envelope{Type: TypeICECandidate, Candidate: &candidate}
}

// Decode parses one wire message. Unknown message types decode without error
// so the transport can log and drop them instead of failing the socket.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode signaling message: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("signaling message missing type tag")
	}
	return env, nil
}

// Validate enforces per-type required fields.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeWelcome:
		if e.ClientID == "" {
			return fmt.Errorf("welcome requires client_id")
		}
	case TypeOffer, TypeAnswer:
		if e.SDP == "" {
			return fmt.Errorf("%s requires sdp", e.Type)
		}
		if e.SDPType != string(TypeOffer) && e.SDPType != string(TypeAnswer) {
			return fmt.Errorf("%s has invalid sdpType %q", e.Type, e.SDPType)
		}
		if e.SDPType != string(e.Type) {
			return fmt.Errorf("%s carries mismatched sdpType %q", e.Type, e.SDPType)
		}
	case TypeICECandidate:
		if e.Candidate == nil || e.Candidate.Candidate == "" {
			return fmt.Errorf("ice_candidate requires candidate payload")
		}
	default:
		return fmt.Errorf("unsupported message type %q", e.Type)
	}
	return nil
}
