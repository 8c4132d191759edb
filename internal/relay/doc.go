// Package relay sends commands from the admin console to a device through the
// device manager's sendCommandToDevice REST method.
//
// Every attempt, successful or not, is written to the command audit log. An
// audit write failure is logged and never changes the relay outcome.
//
// Usage:
//
//	r, err := relay.New(cfg.Relay, path, relay.Deps{Audit: repo, Logger: log})
//	if err := r.Send(ctx, []byte("reboot"), actor); err != nil {
//	    // respond "Could not send command"
//	}
package relay
