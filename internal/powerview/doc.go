// Package powerview models Hunter Douglas PowerView hubs and talks to their
// local REST API.
//
// Two hub generations are supported. Gen-2 hubs report positions on a
// 0..65535 scale, base64-encode names and have no event stream. Gen-3 hubs
// report 0.0..1.0 floats and push events on /home/events. Everything above
// this package sees positions as 0-100 percentages.
//
// Usage:
//
//	c := powerview.NewClient("192.168.1.40", powerview.GenUnknown, 10*time.Second)
//	if _, err := c.DetectGeneration(ctx); err != nil {
//	    return err
//	}
//	home, err := c.Home(ctx)
package powerview
