// Package lutron implements the Lutron protocol bridge for Gray Logic.
//
// This package provides connectivity to Lutron lighting controllers
// (Caséta Smart Bridge Pro, RA2 Select, RadioRA 2) via the Lutron
// Integration Protocol. It translates between Gray Logic's internal
// representation and LIP commands.
//
// # Architecture
//
// The bridge operates as a translator between two buses:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │  Lutron Bridge  │   LIP/Telnet
//	│      Core       │◄────────►│   (this pkg)    │◄────────────► controller
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Translate MQTT commands (on, off, dim, raise, lower, stop, press,
//     release, scene, query) to LIP execute and query commands
//   - Translate LIP feedback to MQTT state messages
//   - Announce the controller's integration report as device discovery
//   - Publish health status and statistics
//
// # Addressing
//
// Lutron addresses devices by integration ID, a small positive integer
// assigned by the controller. Topics carry the ID as their final
// segment:
//
//	graylogic/command/lutron/2
//	graylogic/state/lutron/2
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package lutron
