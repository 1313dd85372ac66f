package whip

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
)

// trickleCandidate is one mid-indexed ICE candidate line from a
// trickle-ice-sdpfrag body, per RFC 8840.
type trickleCandidate struct {
	mid       string
	candidate string
}

// parseTrickleICE walks an application/trickle-ice-sdpfrag body line
// by line, associating each a=candidate: line with the most recently
// seen a=mid: line, per spec 4.6's trickle ICE subsection. The
// fragment is not a complete SDP session description (no v=/o=/s=/t=
// lines), so it can't go through sdp.SessionDescription.Unmarshal;
// each candidate line itself is validated with pion/ice's own parser
// before being handed back to the caller.
func parseTrickleICE(body []byte) ([]trickleCandidate, error) {
	var out []trickleCandidate
	var mid string

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "a=mid:"):
			mid = strings.TrimPrefix(line, "a=mid:")
		case strings.HasPrefix(line, "a=end-of-candidates"):
			// No more candidates for this mid; nothing to accumulate.
		case strings.HasPrefix(line, "a=candidate:"):
			candLine := strings.TrimPrefix(line, "a=")
			if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(candLine, "candidate:")); err != nil {
				return nil, fmt.Errorf("parse ice candidate %q: %w", candLine, err)
			}
			out = append(out, trickleCandidate{mid: mid, candidate: candLine})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
