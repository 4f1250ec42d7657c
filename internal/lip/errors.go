package lip

import "errors"

// Domain errors for the LIP protocol package.
var (
	// ErrNotConnected is returned when a send is attempted while the
	// session is not in the ready state.
	ErrNotConnected = errors.New("lip: not connected to controller")

	// ErrConnectionFailed is returned when the connection or the login
	// handshake with the controller fails.
	ErrConnectionFailed = errors.New("lip: connection to controller failed")

	// ErrConnectionLost is used to fail pending queries when the session
	// drops. Reconnection begins automatically; callers may retry.
	ErrConnectionLost = errors.New("lip: connection lost")

	// ErrAuthenticationFailed is returned when the controller rejects the
	// login credentials. Unlike transient disconnects this is not retried
	// automatically.
	ErrAuthenticationFailed = errors.New("lip: authentication failed")

	// ErrMalformedLine is returned when a received line looks like a LIP
	// frame but a field fails to parse. The line is discarded; the
	// session continues.
	ErrMalformedLine = errors.New("lip: malformed line")

	// ErrInvalidCommand is returned when a command cannot be encoded
	// (missing operation, non-positive identifiers).
	ErrInvalidCommand = errors.New("lip: invalid command")

	// ErrQueryTimeout is returned when no matching feedback arrives for a
	// query within its timeout. Recoverable by retry.
	ErrQueryTimeout = errors.New("lip: query timed out")

	// ErrMalformedReport is returned when an integration report document
	// cannot be parsed at all.
	ErrMalformedReport = errors.New("lip: malformed integration report")

	// ErrDuplicateID is returned when an integration report assigns the
	// same integration ID to more than one device or output.
	ErrDuplicateID = errors.New("lip: duplicate integration id in report")

	// ErrClosed is returned for operations on a closed session or client.
	ErrClosed = errors.New("lip: closed")
)
