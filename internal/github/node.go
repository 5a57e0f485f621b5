package github

import (
	"context"
	"net/url"

	"github.com/hubfs/hubfs/pkg/errors"
	"github.com/hubfs/hubfs/pkg/types"
)

// childSet is the tagged child structure of a node: exactly one of
// node (uniform children) or dirs (literal path segments mapped to
// child structures) is set. A node with a nil childSet is a leaf and
// consumes the whole remaining path.
type childSet struct {
	node *Node
	dirs map[string]*childSet
}

func uniform(n *Node) *childSet { return &childSet{node: n} }

// dirNames returns the literal segment names of a heterogeneous set.
func (c *childSet) dirNames() []string {
	names := make([]string, 0, len(c.dirs))
	for name := range c.dirs {
		names = append(names, name)
	}
	return names
}

// extraField derives one metadata field from a nested location in the
// head response. The first path that resolves wins.
type extraField struct {
	key   string
	paths [][]string
}

// Node is one type in the static virtual tree. Behavior that differs
// per node (listing, metadata, downloads, resolution) is carried as
// function fields filled in by the registry.
type Node struct {
	name     string
	key      string
	children *childSet

	// Listing.
	listPath func(*Descriptor) (string, url.Values)
	listKey  string
	listFn   func(context.Context, *System, *Descriptor) ([]types.DirEntry, error)

	// Metadata.
	headPath  func(*Descriptor) string
	headNever bool
	headKeys  []string
	headExtra []extraField
	headFrom  map[string]*Node
	headFn    func(context.Context, *System, *Descriptor) (map[string]interface{}, error)

	// borrowFn overrides the generic borrow-from-parent mechanics for
	// the fields listed in headFrom.
	borrowFn func(context.Context, *System, *Descriptor, *Node) (map[string]interface{}, error)

	// Downloads and links.
	downloadURL func(context.Context, *System, *Descriptor) (string, error)
	seekable    bool
	symlink     func(context.Context, *System, *Descriptor) (string, error)

	// resolveFn replaces the generic resolution step (Reference,
	// DefaultBranch, LatestRelease).
	resolveFn func(context.Context, *System, *Descriptor) (*Resolution, error)
}

// Name returns the node's registry name.
func (n *Node) Name() string { return n.name }

// Key returns the descriptor field the node captures, or "".
func (n *Node) Key() string { return n.key }

// leaf reports whether the node consumes the whole remaining path.
func (n *Node) leaf() bool { return n.children == nil }

// Resolution is the outcome of resolving one storage path: the node
// describing the exact path, and the child structure enumerated when
// the path is listed as a directory. Virtual marks paths that name a
// literal grouping segment (e.g. "branches", "refs/heads") rather than
// an API object; their Object is the enclosing node, whose time fields
// the listing inherits.
type Resolution struct {
	Descriptor *Descriptor
	Object     *Node
	Content    *childSet
	Virtual    bool
}

// next walks the descriptor's unconsumed segments from this node,
// returning the terminal resolution. Each step consumes at least one
// segment, so the walk always terminates.
func (n *Node) next(ctx context.Context, sys *System, d *Descriptor) (*Resolution, error) {
	if n.resolveFn != nil {
		return n.resolveFn(ctx, sys, d)
	}
	return n.genericNext(ctx, sys, d)
}

func (n *Node) genericNext(ctx context.Context, sys *System, d *Descriptor) (*Resolution, error) {
	if n.leaf() {
		d.Set(n.key, d.drainKeys())
		return &Resolution{Descriptor: d, Object: n, Content: uniform(n)}, nil
	}

	if n.key != "" {
		v, ok := d.popKey()
		if !ok {
			return nil, errors.NewNotFound(d.Path())
		}
		d.Set(n.key, v)
	}

	seg, ok := d.popKey()
	if !ok {
		return &Resolution{Descriptor: d, Object: n, Content: n.children}, nil
	}

	resolved := n.children
	for resolved.dirs != nil {
		child, ok := resolved.dirs[seg]
		if !ok {
			return nil, errors.NewNotFound(d.Path())
		}

		seg, ok = d.popKey()
		if !ok {
			if child.node != nil && child.node.key == "" {
				// Key-less child (HEAD, latest): the segment is the
				// object itself.
				return child.node.terminal(ctx, sys, d)
			}
			// A keyed child or a nested mapping with nothing after it:
			// the segment is a virtual directory.
			return &Resolution{Descriptor: d, Object: n, Content: child, Virtual: true}, nil
		}
		resolved = child
	}

	d.pushKey(seg)
	return resolved.node.next(ctx, sys, d)
}

// terminal ends the walk at a key-less node reached by a literal
// segment with nothing after it.
func (n *Node) terminal(ctx context.Context, sys *System, d *Descriptor) (*Resolution, error) {
	if n.resolveFn != nil {
		return n.resolveFn(ctx, sys, d)
	}
	return &Resolution{Descriptor: d, Object: n, Content: n.children}, nil
}
