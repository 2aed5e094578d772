// Package btr serves pages that were rendered once at build time and are
// replayed on every request against fresh state.
//
// # Overview
//
// A page goes through three stages:
//
//  1. Extraction: a rendered document is walked by lib/extract, which emits a
//     protocol of streaming chunks and a cache of component templates.
//  2. Replay: per request, lib/replay re-emits the page markup from the
//     protocol and the current application state, with no browser involved.
//  3. Hydration: on the live tree, lib/hydrate re-attaches reactive bindings
//     using the same f-* attribute vocabulary the extractor understood.
//
// This package ties those stages together for applications:
//
//   - Descriptor and New build components that hydrate server markup
//   - Library collects descriptors and feeds their templates to extraction
//   - Registry routes HTTP requests to compiled replay programs
//   - StaticState and FileState supply the state a route replays against
//
// # Components
//
// A component is described by plain data plus behavior functions:
//
//	counter := btr.Descriptor{
//	    Tag:      "app-counter",
//	    Template: `<button f-onclick="inc">+</button><span f-signal="count">0</span>`,
//	    Fields:   map[string]any{"count": 0},
//	    Behaviors: btr.Behaviors{
//	        Methods: map[string]btr.Method{
//	            "inc": func(c *btr.Component, _ hydrate.Event) {
//	                n, _ := c.Get("count").(float64)
//	                c.Set("count", n+1)
//	            },
//	        },
//	    },
//	}
//
//	c := btr.New(counter)
//	if err := c.Connect(node); err != nil {
//	    // a missing signal, method or slot content is a setup error
//	}
//	defer c.Disconnect()
//
// Fields become signals lazily, the first time a binding or a caller asks
// for them. Change hooks in Behaviors.Changed run only after Connect.
//
// # Serving
//
// Register compiled protocols on a Registry and mount its handler:
//
//	state, err := btr.OpenFileState("dist/state.json", map[string]any{"items": []any{}})
//	if err != nil {
//	    return err
//	}
//
//	reg := btr.NewRegistry(btr.RegistryOptions{Static: "dist"})
//	reg.HandleFile(http.MethodGet, "/", "dist/index.streams.json", state)
//	reg.HandleFunc(http.MethodPost, "/api/items", state.Handler("items"))
//
//	http.ListenAndServe(":3000", reg.Handler())
//
// Replay renders into a private buffer, so a failing route never sends
// partial markup. Registry.OnError decides what the client sees instead;
// the default renders ErrorComponent.
//
// # Error Handling
//
// Errors fall into three groups:
//
//   - Setup errors from hydration (IsSetupError) are returned at Connect.
//   - Expression errors (IsExpressionError) are reported when a protocol or
//     an f-when attribute is compiled.
//   - Protocol integrity errors, such as a repeat chunk naming a missing
//     template, fail Compile and therefore route registration.
//
// Resource problems during extraction, such as an unreadable stylesheet, are
// logged and returned as diagnostics instead of failing the build.
//
// # Command Line
//
// The btr command wraps the same stages for static site builds:
//
//	btr extract dist/index.html --seeds
//	btr replay dist/index.streams.json --state dist/index.state.json
//	btr serve --config btr.yaml
//
// serve reads a lib/config YAML file naming the routes, the state file and
// the endpoints that store posted state.
//
// # Testing
//
// TestReplay renders a protocol against a state value, and TestRoute drives
// a registered route through the full HTTP handler:
//
//	result, err := btr.TestRoute(reg, http.MethodGet, "/", nil)
//	if !result.HTMLContains("<app-item>") {
//	    t.Fatal("missing item")
//	}
package btr
