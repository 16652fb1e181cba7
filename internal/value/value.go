// Package value implements the custom parts of spec.md §4.2's value and
// object model that diverge from plain ECMAScript semantics: JSON
// stringify/parse with the spec's exact skip/null rules, and a
// reference-preserving deep copy. Standard property access, the
// prototype chain, and freeze semantics are supplied natively by the
// goja runtime (github.com/dop251/goja) that hosts every script.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dop251/goja"
)

// reservedProtoKey is the property name JSON.stringify must never emit,
// matching spec.md §4.2 "skips ... the reserved prototype key".
const reservedProtoKey = "__proto__"

// Stringify implements spec.md §4.2's JSON stringify rules: properties
// whose value is undefined, a function, or "__proto__" are skipped;
// array holes emit null; non-integer finite numbers emit as null
// (deliberately deviating from plain ECMAScript, per the source engine
// this spec was distilled from).
func Stringify(vm *goja.Runtime, v goja.Value) (string, error) {
	node, err := toNode(vm, v, make(map[goja.Value]bool))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(node)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// toNode converts a goja.Value into a plain Go value suitable for
// encoding/json, applying the spec's skip/null rules. seen guards
// against cyclic object graphs (spec.md §9 "objects may reference one
// another freely").
func toNode(vm *goja.Runtime, v goja.Value, seen map[goja.Value]bool) (interface{}, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, errSkip
	}
	if goja.IsNull(v) {
		return nil, nil
	}

	switch {
	case isCallable(v):
		return nil, errSkip
	}

	if obj, ok := v.(*goja.Object); ok {
		if seen[v] {
			return nil, fmt.Errorf("value: cyclic object graph")
		}
		seen[v] = true
		defer delete(seen, v)

		if arr := asArray(obj); arr != nil {
			return arrayNode(vm, obj, arr, seen)
		}
		return objectNode(vm, obj, seen)
	}

	ex := v.Export()
	switch n := ex.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, nil
		}
		if n != math.Trunc(n) {
			// Non-integer finite numbers emit as null (spec.md §4.2).
			return nil, nil
		}
		return n, nil
	default:
		return ex, nil
	}
}

var errSkip = fmt.Errorf("value: skip property")

func isCallable(v goja.Value) bool {
	_, ok := goja.AssertFunction(v)
	return ok
}

func asArray(obj *goja.Object) []string {
	if obj.ClassName() != "Array" {
		return nil
	}
	return obj.Keys()
}

func arrayNode(vm *goja.Runtime, obj *goja.Object, keys []string, seen map[goja.Value]bool) (interface{}, error) {
	lengthVal := obj.Get("length")
	length := int64(0)
	if lengthVal != nil {
		length = lengthVal.ToInteger()
	}
	out := make([]interface{}, length)
	for i := int64(0); i < length; i++ {
		el := obj.Get(fmt.Sprintf("%d", i))
		node, err := toNode(vm, el, seen)
		if err == errSkip {
			out[i] = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = node
	}
	return out, nil
}

func objectNode(vm *goja.Runtime, obj *goja.Object, seen map[goja.Value]bool) (interface{}, error) {
	out := make(map[string]interface{})
	order := make([]string, 0)
	for _, key := range obj.Keys() {
		if key == reservedProtoKey {
			continue
		}
		val := obj.Get(key)
		node, err := toNode(vm, val, seen)
		if err == errSkip {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = node
		order = append(order, key)
	}
	return orderedMap{keys: order, values: out}, nil
}

// orderedMap preserves insertion order through json.Marshal, matching
// spec.md §3's "property bag ordered by insertion".
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ParseError marks a JSON.parse failure reported as an error marker, not
// a partial tree, per spec.md §4.2.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return e.Msg }

// Parse implements spec.md §4.2's JSON parse: rejects any trailing
// content after the first complete value.
func Parse(vm *goja.Runtime, text string) (goja.Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Msg: "json: " + err.Error()}
	}
	if dec.More() {
		return nil, &ParseError{Msg: "json: trailing content after value"}
	}
	return vm.ToValue(fromRaw(raw)), nil
}

func fromRaw(raw interface{}) interface{} {
	switch n := raw.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, v := range n {
			out[k] = fromRaw(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, v := range n {
			out[i] = fromRaw(v)
		}
		return out
	default:
		return n
	}
}

// DeepCopy clones an object graph rooted at v, preserving prototype
// links by reference rather than cloning them, per spec.md §4.2
// "Deep copy preserves prototype links by reference, not by clone."
func DeepCopy(vm *goja.Runtime, v goja.Value) goja.Value {
	return deepCopy(vm, v, make(map[*goja.Object]*goja.Object))
}

func deepCopy(vm *goja.Runtime, v goja.Value, seen map[*goja.Object]*goja.Object) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return v
	}
	if clone, ok := seen[obj]; ok {
		return clone
	}

	clone := vm.NewObject()
	seen[obj] = clone

	for _, key := range obj.Keys() {
		if key == reservedProtoKey {
			continue
		}
		val := obj.Get(key)
		if child, ok := val.(*goja.Object); ok {
			_ = clone.Set(key, deepCopy(vm, child, seen))
			continue
		}
		_ = clone.Set(key, val)
	}

	if proto := obj.Prototype(); proto != nil {
		clone.SetPrototype(proto) // by reference, not cloned
	}
	return clone
}

// SortStrings returns a lexicographically sorted copy of in; the input
// slice is left unchanged. Hash order itself is delegated to
// internal/object.HashList.
func SortStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
