// Package runtime wires storage, config, metrics and the delivery engine
// into a single-node instance. It exposes Open/Close, basic health checks
// and accessors for the services higher layers drive.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Store.DataDir = "./data"
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close(ctx)
//	_ = rt.CheckHealth(ctx)
//	d, _ := rt.Destinations().Open(ctx, "orders", destination.Queue)
//	_, _ = d.Publish(ctx, &message.Message{Payload: []byte("hello")})
//
// An empty Store.DataDir runs everything in memory.
package runtime
