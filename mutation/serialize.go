package mutation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MarshalBatch serialises a Batch to JSON.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// UnmarshalBatch deserialises a Batch from JSON.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReadBatches reads JSON-lines batches from r. Blank lines are skipped.
// The returned batches keep file order; Seq is not used for reordering.
func ReadBatches(r io.Reader) ([]Batch, error) {
	var out []Batch
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		b, err := UnmarshalBatch(data)
		if err != nil {
			return nil, fmt.Errorf("mutation: line %d: %w", line, err)
		}
		out = append(out, *b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mutation: read batches: %w", err)
	}
	return out, nil
}
