package escpos

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jsonJob is the wire form of a JSON print job. Exactly one of Base64 or Ops
// is expected: a raw pre-encoded payload, or a sequence of tagged operations.
type jsonJob struct {
	Base64 string   `json:"base64,omitempty"`
	Ops    []jsonOp `json:"ops,omitempty"`
}

type jsonOp struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Newline *bool  `json:"newline,omitempty"`
	Lines   uint8  `json:"lines,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Base64  string `json:"base64,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// ParseJob decodes a JSON job body into a Document. A {"base64": ...} job
// becomes a single RawBytes operation; an {"ops": [...]} job is mapped
// operation by operation.
func ParseJob(body []byte) (Document, error) {
	var job jsonJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("invalid JSON job: %w", err)
	}

	if job.Base64 != "" {
		raw, err := base64.StdEncoding.DecodeString(job.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return Document{RawBytes{Data: raw}}, nil
	}

	if len(job.Ops) == 0 {
		return nil, fmt.Errorf("job contains neither base64 nor ops")
	}

	doc := make(Document, 0, len(job.Ops))
	for i, op := range job.Ops {
		decoded, err := op.toOperation()
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		doc = append(doc, decoded)
	}
	return doc, nil
}

func (op jsonOp) toOperation() (Operation, error) {
	switch op.Type {
	case "init":
		return Init{}, nil
	case "text":
		newline := true // implicit line feed unless disabled
		if op.Newline != nil {
			newline = *op.Newline
		}
		return Text{Data: op.Data, Newline: newline}, nil
	case "feed":
		return Feed{Lines: op.Lines}, nil
	case "cut":
		return Cut{Mode: ParseCutMode(op.Mode)}, nil
	case "image":
		bitmap, err := base64.StdEncoding.DecodeString(op.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 bitmap: %w", err)
		}
		return RasterImage{Bitmap: bitmap, Width: op.Width, Height: op.Height}, nil
	case "raw":
		raw, err := base64.StdEncoding.DecodeString(op.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 raw data: %w", err)
		}
		return RawBytes{Data: raw}, nil
	default:
		return nil, fmt.Errorf("unknown op type %q", op.Type)
	}
}
