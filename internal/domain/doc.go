/*
Package domain contains the entities and contracts shared by the pool, the
forwarding engine and the admin API.

Backend holds one upstream address plus lock-free health state: the number
of sessions currently handed to it, the failure clock and the operator
controlled unavailable flag. A *Backend obtained from Select stays valid for
the whole session even if the address is removed from the pool meanwhile;
removal only detaches it from the discoverable list.

	backend := domain.NewBackend("10.0.0.7:9000")
	backend.IncrementConnections()
	defer backend.DecrementConnections()

Trace is captured at accept time and carries a session ID and monotonic start
timestamp. Outcome enumerates the seven terminal results of a session, and
Recorder is the set of callbacks that report them.

Selection is swappable behind SelectionPolicy. The only policy shipped is
first_available.
*/
package domain
