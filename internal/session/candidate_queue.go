package session

import "github.com/pion/webrtc/v3"

// candidateQueue buffers network-path candidates that arrive before the
// remote description is known. Not safe for concurrent use on its own; the
// owning negotiator's mutex guards it.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *candidateQueue) push(c webrtc.ICECandidateInit) {
	q.items = append(q.items, c)
}

// drain returns all queued candidates in arrival order and empties the
// queue. Called exactly once per negotiation, immediately after the remote
// description is applied.
func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	items := q.items
	q.items = nil
	return items
}

// clear discards queued candidates. Called when a negotiation restarts so
// stale candidates from the previous round never reach the engine.
func (q *candidateQueue) clear() {
	q.items = nil
}

func (q *candidateQueue) len() int {
	return len(q.items)
}
