// Package engine drives a cash peripheral over its serial link.
//
// An Engine is created for one peripheral profile (see package profile) and
// connected to a port address:
//
//	p, _ := profile.Lookup("ccnet")
//	eng, err := engine.New(p, engine.WithLogger(l))
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	if err := eng.Connect(ctx, "/dev/ttyUSB0"); err != nil {
//		return err
//	}
//	_ = eng.Enable(ctx)
//
//	for ev := range eng.Events() {
//		if ev.Kind == device.EventBillRead {
//			_ = eng.Stack(ctx)
//		}
//	}
//
// Each connection has one loop goroutine that owns the link, the device state
// machine and the poll timer. The link is half-duplex: a command submitted
// while a poll is in flight waits for the poll to conclude, and a second
// command while one is pending or in flight fails with link.ErrBusy. Ticks
// that fall on a busy link are skipped.
//
// Events are queued in transition order and delivered by a dispatcher
// goroutine, so a slow Events consumer delays delivery but never the link.
// When a journal is configured every event is appended to it before delivery.
package engine
