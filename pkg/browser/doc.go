// Package browser acquires a controllable web browser for an agent and
// tears it down without leaking processes or sockets.
//
// A Browser resolves its Config to one of four connection targets, in
// order of precedence:
//
//   - CDPTarget: attach to a running browser over the DevTools protocol
//   - WSSTarget: connect to a remote browser server
//   - BinaryTarget: attach to, or spawn, a local Chromium binary serving
//     the debugging endpoint on localhost:9222
//   - ManagedTarget: launch a driver-managed browser, optionally as a
//     persistent context on a user-data directory
//
// Initialization is lazy and happens on the first EngineHandle,
// PersistentContext or Context.Page call. Close releases everything in a
// fixed order, logs and skips failing steps, and always leaves the Browser
// reusable. Run wraps New and Close for scoped use:
//
//	err := browser.Run(ctx, cfg, func(ctx context.Context, b *browser.Browser) error {
//		c := b.NewContext(nil)
//		defer c.Close()
//		return c.Navigate(ctx, "https://example.com")
//	})
//
// A Browser is not safe for concurrent use.
package browser
