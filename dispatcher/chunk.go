package dispatcher

import "github.com/baldanca/queue-pump/queue"

// MaxBatchBytes is the service ceiling for the summed payload of one
// batch-send call.
const MaxBatchBytes = 256 * 1024

type window struct {
	start, end int
}

// split cuts reqs into consecutive windows holding at most maxItems entries
// and at most maxBytes of payload. An entry larger than maxBytes still gets
// a window of its own so the service can reject it individually.
func split(reqs []queue.OutgoingMessage, maxItems, maxBytes int) []window {
	var (
		out   []window
		start int
		bytes int
	)
	for i := range reqs {
		size := payloadSize(reqs[i])
		if i > start && (i-start == maxItems || bytes+size > maxBytes) {
			out = append(out, window{start, i})
			start, bytes = i, 0
		}
		bytes += size
	}
	if start < len(reqs) {
		out = append(out, window{start, len(reqs)})
	}
	return out
}

// payloadSize counts what the service bills against the batch limit: the
// body plus each attribute's name, data type and value.
func payloadSize(m queue.OutgoingMessage) int {
	n := len(m.Body)
	for k, v := range m.Attributes {
		n += len(k) + len("String") + len(v)
	}
	return n
}
