// SPDX-License-Identifier: Apache-2.0

package vdchost

import "strconv"

// PropertyDescriptor is one gettable/settable leaf of the north-bound
// property API, per SPEC_FULL.md §9 ("a declarative table... to avoid
// hand-written descriptor indexes"). Set is nil for read-only properties.
type PropertyDescriptor struct {
	Name string
	Get  func() any
	Set  func(any) error
}

// PropertyNode is anything the property tree root can walk: entities
// (devices, vdcs, zones) expose their own properties plus their
// children, and the root recurses.
type PropertyNode interface {
	Properties() []PropertyDescriptor
	Children() []PropertyNode
}

// GetProperty walks node's own descriptors for name, returning its
// current value and whether name was found.
func GetProperty(node PropertyNode, name string) (any, bool) {
	for _, d := range node.Properties() {
		if d.Name == name {
			return d.Get(), true
		}
	}
	return nil, false
}

// SetProperty sets name on node to value, failing if the property is
// unknown or read-only.
func SetProperty(node PropertyNode, name string, value any) error {
	for _, d := range node.Properties() {
		if d.Name == name {
			if d.Set == nil {
				return &ReadOnlyPropertyError{Name: name}
			}
			return d.Set(value)
		}
	}
	return &UnknownPropertyError{Name: name}
}

// Snapshot renders every property of node, and recursively every child,
// into a plain map, the shape the north-bound API sends back for a
// subtree read.
func Snapshot(node PropertyNode) map[string]any {
	out := map[string]any{}
	for _, d := range node.Properties() {
		out[d.Name] = d.Get()
	}
	for i, child := range node.Children() {
		out[childKey(i)] = Snapshot(child)
	}
	return out
}

func childKey(i int) string {
	return "#" + strconv.Itoa(i)
}

// UnknownPropertyError is returned by SetProperty/GetProperty callers for
// a name no descriptor matches.
type UnknownPropertyError struct{ Name string }

func (e *UnknownPropertyError) Error() string { return "vdchost: unknown property " + e.Name }

// ReadOnlyPropertyError is returned by SetProperty for a descriptor with
// no Set function.
type ReadOnlyPropertyError struct{ Name string }

func (e *ReadOnlyPropertyError) Error() string { return "vdchost: read-only property " + e.Name }
