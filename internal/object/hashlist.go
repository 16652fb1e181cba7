package object

import (
	"sort"

	"github.com/dop251/goja"
)

// HashList backs spec.md §4.2's "HashList-backed object": an
// open-addressed-style bucket table whose iteration order is hash
// order, not insertion order, used for large keyed sets (`new
// HashList(n)`).
type HashList struct {
	vm      *goja.Runtime
	buckets int
	entries map[string]goja.Value
}

// NewHashList builds a HashList with the given (advisory) bucket count
// and returns it bound as a goja object exposing get/set/remove/count/
// forEach/keys.
func NewHashList(vm *goja.Runtime, buckets int) *goja.Object {
	if buckets <= 0 {
		buckets = 17
	}
	h := &HashList{vm: vm, buckets: buckets, entries: make(map[string]goja.Value)}
	return h.bind()
}

func (h *HashList) hashOrder() []string {
	keys := make([]string, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bucketOf(keys[i], h.buckets) < bucketOf(keys[j], h.buckets) ||
			(bucketOf(keys[i], h.buckets) == bucketOf(keys[j], h.buckets) && keys[i] < keys[j])
	})
	return keys
}

// bucketOf is a small FNV-1a style hash used only to order iteration,
// deliberately not exposed to scripts.
func bucketOf(key string, buckets int) int {
	var hash uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= 16777619
	}
	return int(hash) % buckets
}

func (h *HashList) bind() *goja.Object {
	obj := h.vm.NewObject()

	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if v, ok := h.entries[key]; ok {
			return v
		}
		return goja.Undefined()
	})

	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		val := call.Argument(1)
		if goja.IsUndefined(val) {
			delete(h.entries, key)
			return h.vm.ToValue(true)
		}
		h.entries[key] = val
		return h.vm.ToValue(true)
	})

	_ = obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		_, existed := h.entries[key]
		delete(h.entries, key)
		return h.vm.ToValue(existed)
	})

	_ = obj.Set("count", func(call goja.FunctionCall) goja.Value {
		return h.vm.ToValue(len(h.entries))
	})

	_ = obj.Set("keys", func(call goja.FunctionCall) goja.Value {
		return h.vm.ToValue(h.hashOrder())
	})

	_ = obj.Set("forEach", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		for _, key := range h.hashOrder() {
			if _, err := fn(goja.Undefined(), h.entries[key], h.vm.ToValue(key)); err != nil {
				break
			}
		}
		return goja.Undefined()
	})

	return obj
}
