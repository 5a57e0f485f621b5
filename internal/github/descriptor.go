// Package github maps a GitHub account's repositories, references,
// trees, releases and archives onto a navigable filesystem tree.
//
// Paths resolve against a static node registry built at startup; each
// node knows the REST endpoints that list and describe objects of its
// kind, which metadata fields it owns, and which it borrows from a
// parent node.
package github

import (
	"strings"
)

// Descriptor is the progressively-filled mapping from semantic field
// names (owner, repo, branch, sha, tag, path, ...) to the values
// captured while resolving one storage path. Resolution only adds
// fields, it never overwrites one with a conflicting value.
type Descriptor struct {
	fullPath string
	values   map[string]string
	keys     []string
}

func newDescriptor(path string) *Descriptor {
	trimmed := strings.Trim(path, "/")
	var keys []string
	if trimmed != "" {
		keys = strings.Split(trimmed, "/")
	}
	return &Descriptor{
		fullPath: path,
		values:   make(map[string]string),
		keys:     keys,
	}
}

// Path returns the storage path the descriptor was built from.
func (d *Descriptor) Path() string { return d.fullPath }

// Get returns the captured value for field, or "".
func (d *Descriptor) Get(field string) string { return d.values[field] }

// Has reports whether field has been captured.
func (d *Descriptor) Has(field string) bool {
	_, ok := d.values[field]
	return ok
}

// Set captures a field value. An already-captured field keeps its first
// value.
func (d *Descriptor) Set(field, value string) {
	if field == "" {
		return
	}
	if _, ok := d.values[field]; !ok {
		d.values[field] = value
	}
}

// Values returns a copy of every captured field.
func (d *Descriptor) Values() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// popKey consumes the next unconsumed path segment.
func (d *Descriptor) popKey() (string, bool) {
	if len(d.keys) == 0 {
		return "", false
	}
	k := d.keys[0]
	d.keys = d.keys[1:]
	return k, true
}

// pushKey puts a segment back at the front of the queue.
func (d *Descriptor) pushKey(k string) {
	d.keys = append([]string{k}, d.keys...)
}

// peekKey returns the next unconsumed segment without consuming it.
func (d *Descriptor) peekKey() (string, bool) {
	if len(d.keys) == 0 {
		return "", false
	}
	return d.keys[0], true
}

// drainKeys consumes every remaining segment as one slash-joined value.
func (d *Descriptor) drainKeys() string {
	joined := strings.Join(d.keys, "/")
	d.keys = nil
	return joined
}

// clone copies the descriptor, including the unconsumed segments.
func (d *Descriptor) clone() *Descriptor {
	values := make(map[string]string, len(d.values))
	for k, v := range d.values {
		values[k] = v
	}
	keys := append([]string(nil), d.keys...)
	return &Descriptor{fullPath: d.fullPath, values: values, keys: keys}
}

// ref returns the revision the descriptor points at: a commit sha, a
// branch name or a tag name, whichever was captured.
func (d *Descriptor) ref() string {
	for _, field := range []string{"sha", "branch", "tag"} {
		if v := d.values[field]; v != "" {
			return v
		}
	}
	return ""
}
