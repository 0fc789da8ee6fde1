package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WordFrequency is one token and the number of times it occurred.
type WordFrequency struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// WordCloud is an ordered token -> frequency table.
// It encodes as a JSON object whose keys keep slice order, so the
// descending-frequency ranking survives a round trip.
type WordCloud []WordFrequency

// MarshalJSON writes the cloud as {"word":count,...} in slice order.
func (wc WordCloud) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, wf := range wc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(wf.Word)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", wf.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order found in the input.
func (wc *WordCloud) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*wc = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("word cloud: expected object, got %v", tok)
	}
	out := WordCloud{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		word, ok := tok.(string)
		if !ok {
			return fmt.Errorf("word cloud: expected string key, got %v", tok)
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("word cloud: count for %q: %w", word, err)
		}
		out = append(out, WordFrequency{Word: word, Count: count})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*wc = out
	return nil
}

// Map returns the cloud as a plain map. Ordering is lost.
func (wc WordCloud) Map() map[string]int {
	m := make(map[string]int, len(wc))
	for _, wf := range wc {
		m[wf.Word] = wf.Count
	}
	return m
}
