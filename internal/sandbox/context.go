// Package sandbox evaluates guest JavaScript on an embedded goja interpreter
// with an allow-list execution context.
//
// The enforcement model is absence: a capability the guest cannot name does
// not exist. A fresh VM carries the ECMAScript intrinsics (Math, JSON,
// String, Number, Boolean, Array, Date, RegExp, ...) but none of the host,
// network, storage, or document bindings a browser or Node would add — so
// the safe context only has to take away the few intrinsics that break
// containment (eval, Function, Reflect, Proxy, globalThis) and add back a
// console that writes to an in-memory accumulator instead of a real stream.
package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// deniedGlobals are VM intrinsics shadowed to undefined before guest code
// runs. Host-environment names (require, process, module, exports) do not
// exist on a bare goja VM, but shadowing them costs nothing and keeps the
// list aligned with the validator's deny-list.
var deniedGlobals = []string{
	"eval",
	"Function",
	"Reflect",
	"Proxy",
	"globalThis",
	"require",
	"process",
	"module",
	"exports",
	"setTimeout",
	"setInterval",
	"setImmediate",
}

// objectFacade replaces the global Object binding with a frozen plain object
// exposing only operations that cannot reach the shared prototype chain:
// enumerate, merge, create-with-prototype, freeze, seal, identity-compare,
// own-property-check. defineProperty, setPrototypeOf, getOwnPropertyDescriptor
// and friends are simply not there.
//
// Assigning to the Object binding works because the script runs non-strict
// at the top level; object literals keep working since they use the
// intrinsic, not the global binding.
var objectFacade = goja.MustCompile("facade.js", `
(function() {
	var O = Object;
	var hasOwn = O.prototype.hasOwnProperty;
	var safe = {
		keys: O.keys,
		values: O.values,
		entries: O.entries,
		assign: O.assign,
		create: O.create,
		freeze: O.freeze,
		seal: O.seal,
		is: O.is,
		hasOwnProperty: function(obj, key) { return hasOwn.call(obj, key); }
	};
	O.freeze(safe);
	Object = safe;
})();
`, false)

// Context is the capability set visible to one guest evaluation, plus the
// output accumulator its console writes into. NewContext is a stateless
// factory: every call produces the identical binding set with a fresh, empty
// accumulator, and the context holds no reference to any host environment.
type Context struct {
	mu    sync.Mutex
	lines []string
}

// NewContext returns a fresh safe context.
func NewContext() *Context {
	return &Context{}
}

// Install applies the context to a VM: denied intrinsics are shadowed to
// undefined, the global Object binding is narrowed to the facade, and the
// three console channels are pointed at this context's accumulator.
//
// Install is called once per evaluation on a VM that is discarded
// afterwards, so the redirection can never outlive the invocation.
func (c *Context) Install(vm *goja.Runtime) error {
	for _, name := range deniedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("sandbox: shadowing %s: %w", name, err)
		}
	}

	if _, err := vm.RunProgram(objectFacade); err != nil {
		return fmt.Errorf("sandbox: installing object facade: %w", err)
	}

	console := vm.NewObject()
	// Three channels: informational (log + info), error, warning. Each
	// formats its arguments to text and appends to the accumulator; none
	// touches a real stream.
	for name, channel := range map[string]string{
		"log":   "",
		"info":  "",
		"error": "[error] ",
		"warn":  "[warn] ",
	} {
		prefix := channel
		fn := func(call goja.FunctionCall) goja.Value {
			c.append(prefix, call.Arguments)
			return goja.Undefined()
		}
		if err := console.Set(name, fn); err != nil {
			return fmt.Errorf("sandbox: building console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("sandbox: installing console: %w", err)
	}

	return nil
}

// Output returns everything the guest printed so far, one console call per
// line.
func (c *Context) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func (c *Context) append(prefix string, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatValue(a))
	}
	c.mu.Lock()
	c.lines = append(c.lines, prefix+strings.Join(parts, " "))
	c.mu.Unlock()
}

// formatValue renders one console argument. goja's String() gives the
// ECMAScript ToString behavior, which matches what users expect from a
// browser console for primitives; plain objects render as their JSON form
// so `console.log({a:1})` is useful rather than "[object Object]".
func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if s := obj.String(); s == "[object Object]" {
			if data, err := json.Marshal(obj.Export()); err == nil {
				return string(data)
			}
		}
	}
	return v.String()
}
