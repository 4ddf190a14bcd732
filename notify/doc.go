// Package notify provides filesystem change notification over a single
// multiplexed OS session.
//
// It is the public surface of the vigil engine: open a Channel, register
// watches for the paths and event classes you care about, then run the
// dispatch loop with a sink that receives each decoded event in arrival
// order.
//
//	// Basic usage
//	ch, err := notify.Open(notify.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ch.Close()
//
//	wd, err := ch.AddWatch("/tmp/x", notify.Create|notify.Delete)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = ch.Serve(context.Background(), func(ctx context.Context, ev notify.Event) error {
//		path, _ := ch.Path(ev.WD)
//		fmt.Printf("%s: %s/%s\n", ev.Mask, path, ev.Name)
//		return nil
//	})
//
//	// Convenience wrapper, stopped by cancelling the context
//	err := notify.Watch(ctx, []string{"/tmp/x"}, notify.AllEvents, sink, notify.Options{})
//
// The sink runs synchronously on the dispatch goroutine: a slow sink stalls
// delivery for its whole channel. Closing the channel is the only way to
// cancel a blocked dispatch loop; Serve returns nil when that happens.
//
// On platforms without the native notification facility, NewFallbackWatcher
// offers the same contract backed by fsnotify.
package notify
