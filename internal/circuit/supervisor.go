// Package circuit implements C3, the circuit client: an HTTP client
// routed through a SOCKS5 proxy exposed by an anonymizing subprocess, with
// the ability to request a fresh exit identity between link-acquisition
// attempts.
//
// The subprocess itself -- the anonymizing circuit process supervisor --
// is an out-of-scope external collaborator per spec.md §1, referenced
// only through the Supervisor interface below. TorSupervisor is the one
// concrete adapter this repo ships, shelling out to a local tor-compatible
// binary the way the original implementation's torrunner.py does.
package circuit

import "context"

// Supervisor launches and controls the anonymizing subprocess. It is the
// out-of-scope collaborator spec.md references only by interface.
type Supervisor interface {
	// Start launches the subprocess rooted at dataDir and blocks until it
	// reports ready, returning the SOCKS and control ports it bound.
	Start(ctx context.Context, dataDir string) (socksPort, ctrlPort int, err error)
	// NewIdentity asks the running subprocess to build a fresh circuit and
	// returns only after acknowledgement.
	NewIdentity(ctx context.Context) error
	// Stop terminates the subprocess and removes its data directory.
	Stop() error
}
