// Package client opens sessions to a dSock server (or any peer speaking the
// same protocol).
//
// A Client dials a fixed number of connections through the connector of the
// configured network, upgrades them with the socket options and runs one
// session per connection on a private channel group. Write distributes
// messages over the open sessions via Round Robin; replies are delivered to
// the MessageProcessor like on the server side.
//
// Usage:
//
//	c, err := client.New[[]byte](config, protocol.NewFrameProtocol(1024), processor)
//	if err != nil {
//		return err
//	}
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Close(ctx)
//	err = c.Write([]byte("hello"))
package client
