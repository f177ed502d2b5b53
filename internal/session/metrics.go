package session

import "time"

// Recorder receives protocol-level measurements from sessions and
// negotiators. The production implementation lives in
// internal/infrastructure/monitoring; tests and embedders that do not care
// use NopRecorder.
type Recorder interface {
	SessionStarted(kind string)
	SessionEnded(kind string)
	OfferSent(retry bool)
	AnswerSent()
	CandidateQueued()
	CandidatesDrained(count int)
	SignalDiscarded(event string)
	Connected(after time.Duration)
	NegotiationFailed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string) {}
func (nopRecorder) SessionEnded(string) {}
func (nopRecorder) OfferSent(bool) {}
func (nopRecorder) AnswerSent() {}
func (nopRecorder) CandidateQueued() {}
func (nopRecorder) CandidatesDrained(int) {}
func (nopRecorder) SignalDiscarded(string) {}
func (nopRecorder) Connected(time.Duration) {}
func (nopRecorder) NegotiationFailed(string) {}

// NopRecorder returns a Recorder that drops everything.
func NopRecorder() Recorder { return nopRecorder{} }
