package index

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PathNode is one node of a relative-import tree. A node is either a leaf
// carrying an absolute CDN URL or a branch keyed by path segments, never
// both. Leaves marshal as JSON strings and branches as JSON objects, so
// the persisted form stays readable.
type PathNode struct {
	url      string
	children map[string]*PathNode
}

// NewLeaf creates a leaf node pointing at url.
func NewLeaf(url string) *PathNode {
	return &PathNode{url: url}
}

// NewBranch creates an empty interior node.
func NewBranch() *PathNode {
	return &PathNode{children: make(map[string]*PathNode)}
}

// IsLeaf reports whether the node carries a URL instead of children.
func (n *PathNode) IsLeaf() bool {
	return n.children == nil
}

// URL returns the leaf URL; empty for branches.
func (n *PathNode) URL() string {
	return n.url
}

// Set inserts url at the given path segments, creating interior branches
// as needed. Re-inserting an identical leaf is a no-op; any other
// leaf/branch conflict is an error because it means two files of the same
// unit claim the same import path for different targets.
func (n *PathNode) Set(segments []string, url string) error {
	if len(segments) == 0 {
		return fmt.Errorf("cannot set empty import path")
	}
	if n.IsLeaf() {
		return fmt.Errorf("import path %q descends through leaf %q", strings.Join(segments, "/"), n.url)
	}

	head, rest := segments[0], segments[1:]
	child, ok := n.children[head]

	if len(rest) == 0 {
		if !ok {
			n.children[head] = NewLeaf(url)
			return nil
		}
		if child.IsLeaf() {
			if child.url == url {
				return nil
			}
			return fmt.Errorf("import path %q already mapped to %q, refusing %q", head, child.url, url)
		}
		return fmt.Errorf("import path %q is an interior node, cannot become leaf %q", head, url)
	}

	if !ok {
		child = NewBranch()
		n.children[head] = child
	}
	if err := child.Set(rest, url); err != nil {
		return fmt.Errorf("%s/%w", head, err)
	}
	return nil
}

// Get walks the path segments and returns the leaf URL at the end.
func (n *PathNode) Get(segments []string) (string, bool) {
	if len(segments) == 0 {
		if n.IsLeaf() {
			return n.url, true
		}
		return "", false
	}
	if n.IsLeaf() {
		return "", false
	}
	child, ok := n.children[segments[0]]
	if !ok {
		return "", false
	}
	return child.Get(segments[1:])
}

// Walk visits every leaf in the subtree, passing the segment path from
// this node and the leaf URL. Traversal order is unspecified.
func (n *PathNode) Walk(fn func(segments []string, url string)) {
	n.walk(nil, fn)
}

func (n *PathNode) walk(prefix []string, fn func(segments []string, url string)) {
	if n.IsLeaf() {
		fn(prefix, n.url)
		return
	}
	for seg, child := range n.children {
		child.walk(append(prefix[:len(prefix):len(prefix)], seg), fn)
	}
}

// MarshalJSON encodes leaves as strings and branches as objects.
func (n *PathNode) MarshalJSON() ([]byte, error) {
	if n.IsLeaf() {
		return json.Marshal(n.url)
	}
	return json.Marshal(n.children)
}

// UnmarshalJSON decodes the string/object encoding produced by
// MarshalJSON.
func (n *PathNode) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var url string
		if err := json.Unmarshal(data, &url); err != nil {
			return err
		}
		n.url = url
		n.children = nil
		return nil
	}

	var children map[string]*PathNode
	if err := json.Unmarshal(data, &children); err != nil {
		return err
	}
	if children == nil {
		children = make(map[string]*PathNode)
	}
	n.url = ""
	n.children = children
	return nil
}
