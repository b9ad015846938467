package sluice

import (
	"encoding/json"
	"fmt"
)

// Payload type tags routed by the Mux.
const (
	// TypeAnalyzeBatch asks a worker to analyze one batch of documents.
	TypeAnalyzeBatch = "batch.analyze"
	// TypeSynthesizeRun asks a worker to combine per-batch results.
	TypeSynthesizeRun = "run.synthesize"
)

// Envelope is the wire form of a task payload: a type tag plus the serialized
// variant. Unknown type tags fail decoding.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Payload is implemented by every task payload variant.
type Payload interface {
	// PayloadType returns the envelope type tag.
	PayloadType() string
	// RunRef returns the run the task belongs to and its batch index.
	RunRef() (runID string, batchIndex int)
	// ArtifactRefs lists the input artifact IDs the task reads.
	ArtifactRefs() []string
}

// AnalyzeBatch is the payload of one fan-out sub-task: analyze a batch of
// documents identified by artifact ID.
type AnalyzeBatch struct {
	RunID      string            `json:"run_id"`
	BatchIndex int               `json:"batch_index"`
	Documents  []string          `json:"documents"`
	Params     map[string]string `json:"params,omitempty"`
}

func (p *AnalyzeBatch) PayloadType() string { return TypeAnalyzeBatch }
func (p *AnalyzeBatch) RunRef() (string, int) { return p.RunID, p.BatchIndex }
func (p *AnalyzeBatch) ArtifactRefs() []string { return p.Documents }

// SynthesizeRun is the payload of a fan-in follow-up: combine per-batch
// result artifacts into one output.
type SynthesizeRun struct {
	RunID      string            `json:"run_id"`
	BatchIndex int               `json:"batch_index"`
	Sources    []string          `json:"sources"`
	Params     map[string]string `json:"params,omitempty"`
}

func (p *SynthesizeRun) PayloadType() string { return TypeSynthesizeRun }
func (p *SynthesizeRun) RunRef() (string, int) { return p.RunID, p.BatchIndex }
func (p *SynthesizeRun) ArtifactRefs() []string { return p.Sources }

// EncodeEnvelope wraps p in an Envelope and serializes it with enc.
func EncodeEnvelope(enc Encoder, p Payload) ([]byte, error) {
	data, err := enc.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.PayloadType(), err)
	}
	return enc.Encode(Envelope{Type: p.PayloadType(), Data: data})
}

// DecodeEnvelope parses raw into its typed payload variant.
func DecodeEnvelope(enc Encoder, raw []byte) (Payload, error) {
	var env Envelope
	if err := enc.Decode(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeAnalyzeBatch:
		var p AnalyzeBatch
		if err := enc.Decode(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return &p, nil
	case TypeSynthesizeRun:
		var p SynthesizeRun
		if err := enc.Decode(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadType, env.Type)
	}
}
