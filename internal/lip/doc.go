// Package lip implements a client for the Lutron Integration Protocol.
//
// LIP is the line-oriented ASCII protocol spoken by Lutron controllers
// (Caséta Smart Bridge Pro, RA2 Select, RadioRA 2, HomeWorks QS) over a
// Telnet-style TCP session. Commands are sent as CRLF-terminated lines
// and the controller streams back feedback lines prefixed with '~'.
//
// # Architecture
//
// The package is layered; each layer is usable on its own and Client
// composes them:
//
//	┌──────────┐  Execute/Query/Subscribe
//	│  Client  │◄───────────────────────── caller
//	└────┬─────┘
//	     │
//	┌────┴─────┐   ┌────────────┐   ┌─────┐
//	│ Session  │──►│ Dispatcher │──►│ Bus │
//	└────┬─────┘   └────────────┘   └─────┘
//	     │ TCP :23
//	     ▼
//	 controller
//
//   - Command/Event and the codec handle the wire format
//   - Session owns the socket: login handshake, read loop, keepalive,
//     reconnection with exponential backoff
//   - Dispatcher correlates ?queries with the ~feedback that answers them
//   - Bus fans feedback out to subscribers in wire order
//   - ParseIntegrationReport turns the controller's JSON inventory into
//     a DeviceModel of areas, devices, outputs, and scenes
//
// # Wire Format
//
// Outbound lines start with '#' (execute) or '?' (query):
//
//	#OUTPUT,2,1,75.00      set output 2 to 75%
//	?OUTPUT,2,1            query output 2's level
//
// Inbound feedback starts with '~':
//
//	~OUTPUT,2,1,75.00      output 2 is at 75%
//	~DEVICE,5,3,3          device 5 button 3 pressed
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple
// goroutines. A Session (and therefore a Client) is single-use: after
// Close, construct a new one.
//
// # References
//
//   - Lutron Integration Protocol guide:
//     https://www.lutron.com/TechnicalDocumentLibrary/040249.pdf
package lip
