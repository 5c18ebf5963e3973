// Package destination owns the messages of a named destination and fans
// them out to its subscriptions.
//
// Every Destination runs one taskqueue.Queue. Publishing, subscribing,
// acknowledgements and credit updates are all tasks on that queue, so the
// subscriptions' identifier sets are only ever touched by one goroutine.
// Destinations live in a Registry arena and are referenced by Handle.
//
//	reg := destination.NewRegistry(destination.RegistryOptions{DB: db, Catalog: cat, Builder: b})
//	d, _ := reg.Open(ctx, "orders", destination.Queue)
//	sub, _ := d.Subscribe(ctx, subscription.Context{Alias: "a"}, sink)
//	ids, _ := d.Publish(ctx, msg)
//	sub.AckReceived(ids[0])
package destination
