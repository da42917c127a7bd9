package service

import (
	"net"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/sirupsen/logrus"
)

// RecordSuccess reports a session where both directions reached EOF
func (p *Pool) RecordSuccess(client net.Addr, backend *domain.Backend, requestBytes, responseBytes int64, trace domain.Trace) {
	p.record(domain.OutcomeSuccess, client, backend, requestBytes, responseBytes, nil, trace)
}

// RecordConnectionFailure reports a dial error
func (p *Pool) RecordConnectionFailure(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeConnectFailure, client, backend, 0, 0, err, trace)
}

// RecordConnectionTimeout reports a dial that exceeded the connection timeout
func (p *Pool) RecordConnectionTimeout(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeConnectTimeout, client, backend, 0, 0, err, trace)
}

// RecordReadFailure reports an error reading from a direction's source
func (p *Pool) RecordReadFailure(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeReadFailure, client, backend, 0, 0, err, trace)
}

// RecordReadTimeout reports a source that stayed silent past the read timeout
func (p *Pool) RecordReadTimeout(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeReadTimeout, client, backend, 0, 0, err, trace)
}

// RecordWriteFailure reports an error writing to a direction's destination
func (p *Pool) RecordWriteFailure(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeWriteFailure, client, backend, 0, 0, err, trace)
}

// RecordWriteTimeout reports a destination that did not drain within the
// write timeout
func (p *Pool) RecordWriteTimeout(client net.Addr, backend *domain.Backend, err error, trace domain.Trace) {
	p.record(domain.OutcomeWriteTimeout, client, backend, 0, 0, err, trace)
}

// record is the single place a session releases its backend. Elapsed time is
// read once and used for both the failure clock and the event.
func (p *Pool) record(outcome domain.Outcome, client net.Addr, backend *domain.Backend, requestBytes, responseBytes int64, err error, trace domain.Trace) {
	elapsed := trace.Elapsed()

	backend.DecrementConnections()
	if outcome == domain.OutcomeSuccess {
		backend.ResetFailure()
	} else {
		backend.MarkFailure(p.failureStamp(elapsed))
	}
	p.metrics.sessionRecorded(backend.Address, outcome, elapsed, requestBytes, responseBytes)

	event := p.logger.WithFields(logrus.Fields{
		"component":  "telemetry",
		"client":     addrString(client),
		"backend":    backend.Address,
		"session":    trace.ID.String(),
		"outcome":    outcome.String(),
		"elapsed_ms": elapsed.Milliseconds(),
	})

	switch outcome {
	case domain.OutcomeSuccess:
		event.WithFields(logrus.Fields{
			"request_bytes":  requestBytes,
			"response_bytes": responseBytes,
		}).Info("Session completed")
	case domain.OutcomeConnectFailure:
		event.WithError(err).Error("Backend connection failed")
	case domain.OutcomeConnectTimeout:
		event.WithError(err).Error("Backend connection timed out")
	case domain.OutcomeReadFailure:
		event.WithError(err).Warn("Read failed")
	case domain.OutcomeReadTimeout:
		event.WithError(err).Warn("Read timed out")
	case domain.OutcomeWriteFailure:
		event.WithError(err).Warn("Write failed")
	case domain.OutcomeWriteTimeout:
		event.WithError(err).Warn("Write timed out")
	}
}
