package airqo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/normalize"
)

// ListKeys are the top-level keys that may hold the measurement list.
var ListKeys = []string{"measurements", "results", "data"}

type page struct {
	body    []byte
	doc     map[string]json.RawMessage
	listKey string
	raw     []json.RawMessage
	items   []any
	pages   int
}

// decodePage parses one response body. The list is taken from the first
// ListKeys entry holding a non-empty array, or from a top-level array.
func decodePage(body []byte) (*page, error) {
	trimmed := bytes.TrimSpace(body)
	pg := &page{body: body, pages: 1}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &pg.raw); err != nil {
			return nil, fmt.Errorf("decode measurements array: %w", err)
		}
	} else {
		if err := json.Unmarshal(trimmed, &pg.doc); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		for _, key := range ListKeys {
			v, ok := pg.doc[key]
			if !ok {
				continue
			}
			var list []json.RawMessage
			if err := json.Unmarshal(v, &list); err != nil {
				continue
			}
			if pg.listKey == "" {
				pg.listKey = key
			}
			if len(list) > 0 {
				pg.listKey = key
				pg.raw = list
				break
			}
		}
		pg.pages = declaredPages(pg.doc["meta"])
	}

	pg.items = make([]any, 0, len(pg.raw))
	for _, r := range pg.raw {
		v, err := decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("decode measurement: %w", err)
		}
		pg.items = append(pg.items, v)
	}
	return pg, nil
}

// withItems rebuilds the page document with its list replaced by items.
func (p *page) withItems(items []json.RawMessage) ([]byte, error) {
	if p.doc == nil {
		if items == nil {
			items = []json.RawMessage{}
		}
		return json.Marshal(items)
	}
	doc := make(map[string]json.RawMessage, len(p.doc)+1)
	for k, v := range p.doc {
		doc[k] = v
	}
	key := p.listKey
	if key == "" {
		key = ListKeys[0]
	}
	list, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	if items == nil {
		list = []byte("[]")
	}
	doc[key] = list
	return json.Marshal(doc)
}

func declaredPages(meta json.RawMessage) int {
	if len(meta) == 0 {
		return 1
	}
	v, err := decodeValue(meta)
	if err != nil {
		return 1
	}
	m, ok := v.(map[string]any)
	if !ok {
		return 1
	}
	n, ok := normalize.Number(m["pages"])
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
