package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hubfs/hubfs/pkg/errors"
)

// Header is the lazy metadata view over one resolved object. A field
// lookup that misses locally triggers either a borrow from the parent
// node that owns the field or this node's own head fetch, which runs at
// most once per instance. A field still absent after the self-head is a
// permanent miss.
type Header struct {
	sys  *System
	node *Node
	desc *Descriptor

	mu       sync.Mutex
	fields   map[string]interface{}
	missing  map[string]bool
	borrowed map[string]bool
	selfDone bool
}

func newHeader(sys *System, node *Node, desc *Descriptor) *Header {
	return &Header{
		sys:      sys,
		node:     node,
		desc:     desc,
		fields:   make(map[string]interface{}),
		missing:  make(map[string]bool),
		borrowed: make(map[string]bool),
	}
}

// Node returns the node this header describes.
func (h *Header) Node() *Node { return h.node }

// Get returns the raw value of one metadata field.
func (h *Header) Get(ctx context.Context, key string) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.get(ctx, key)
}

func (h *Header) get(ctx context.Context, key string) (interface{}, error) {
	if v, ok := h.fields[key]; ok {
		return v, nil
	}
	if h.missing[key] {
		return nil, errors.NewNotFound(h.desc.Path() + "#" + key)
	}

	if parent := h.node.headFrom[key]; parent != nil && !h.borrowed[parent.name] {
		h.borrowed[parent.name] = true
		if err := h.borrow(ctx, parent); err != nil {
			return nil, err
		}
		if v, ok := h.fields[key]; ok {
			return v, nil
		}
	}

	if !h.selfDone {
		h.selfDone = true
		fetched, err := h.sys.nodeHead(ctx, h.node, h.desc)
		if err != nil {
			return nil, err
		}
		h.merge(fetched)
		if v, ok := h.fields[key]; ok {
			return v, nil
		}
	}

	h.missing[key] = true
	return nil, errors.NewNotFound(h.desc.Path() + "#" + key)
}

// borrow pulls from parent every field this node declares as owned by
// it. The generic path first makes sure the descriptor carries the
// parent's own key, resolving it through this header if needed.
func (h *Header) borrow(ctx context.Context, parent *Node) error {
	if h.node.borrowFn != nil {
		fetched, err := h.node.borrowFn(ctx, h.sys, h.desc, parent)
		if err != nil {
			return err
		}
		h.merge(fetched)
		return nil
	}

	if parent.key != "" && !h.desc.Has(parent.key) {
		v, err := h.get(ctx, parent.key)
		if err != nil {
			return err
		}
		h.desc.Set(parent.key, asString(v))
	}

	ph := h.sys.header(parent, h.desc)
	for key, owner := range h.node.headFrom {
		if owner != parent {
			continue
		}
		v, err := ph.Get(ctx, key)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return err
		}
		h.fields[key] = v
	}
	return nil
}

// merge fills absent fields and captures revision identifiers into the
// descriptor so dependent lookups can build their endpoints.
func (h *Header) merge(fetched map[string]interface{}) {
	for k, v := range fetched {
		if _, ok := h.fields[k]; !ok {
			h.fields[k] = v
		}
	}
	for _, field := range []string{"sha", "tag"} {
		if v, ok := h.fields[field]; ok && !h.desc.Has(field) {
			h.desc.Set(field, asString(v))
		}
	}
}

// All fetches this node's own metadata (once) and returns every field
// known so far.
func (h *Header) All(ctx context.Context) (map[string]interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.selfDone {
		h.selfDone = true
		fetched, err := h.sys.nodeHead(ctx, h.node, h.desc)
		if err != nil {
			return nil, err
		}
		h.merge(fetched)
	}

	out := make(map[string]interface{}, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out, nil
}

// GetString returns the field rendered as a string.
func (h *Header) GetString(ctx context.Context, key string) (string, error) {
	v, err := h.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return asString(v), nil
}

// GetInt64 returns the field as an integer. JSON numbers and numeric
// strings (e.g. Content-Length) both qualify.
func (h *Header) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := h.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, errors.NewNotFound(h.desc.Path() + "#" + key)
	}
}

// GetTime returns the field parsed as an API or HTTP timestamp.
func (h *Header) GetTime(ctx context.Context, key string) (time.Time, error) {
	s, err := h.GetString(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return http.ParseTime(s)
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		return ""
	}
}
