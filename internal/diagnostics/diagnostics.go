// Package diagnostics implements the STUN reachability probe that
// cmd/smelter runs at startup against its configured STUN servers, using
// github.com/pion/stun/v3 — declared in the teacher's go.mod but never
// imported by its own code, given a home here.
package diagnostics

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// Result is one STUN server's reachability outcome.
type Result struct {
	Server    string
	Reachable bool
	Err       error
	RTT       time.Duration
}

// ProbeSTUNServers sends a STUN binding request to each server and
// reports whether a binding response came back within timeout. A
// server may be given as host:port or as a "stun:host:port" URI. Used
// by cmd/smelter's startup check (spec 6.3's
// SMELTER_REQUIRED_WGPU_FEATURES env var is the only documented
// environment knob; STUN reachability is a constructor-time sanity
// check, not a control-surface concern).
func ProbeSTUNServers(servers []string, timeout time.Duration) []Result {
	results := make([]Result, len(servers))
	for i, s := range servers {
		results[i] = probeOne(s, timeout)
	}
	return results
}

func probeOne(server string, timeout time.Duration) Result {
	start := time.Now()
	addr := strings.TrimPrefix(server, "stun:")
	conn, err := net.DialTimeout("udp4", addr, timeout)
	if err != nil {
		return Result{Server: server, Err: fmt.Errorf("dial %s: %w", server, err)}
	}
	defer conn.Close()

	client, err := stun.NewClient(conn)
	if err != nil {
		return Result{Server: server, Err: fmt.Errorf("new stun client: %w", err)}
	}
	defer client.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	done := make(chan error, 1)
	err = client.Start(msg, func(res stun.Event) {
		if res.Error != nil {
			done <- res.Error
			return
		}
		if res.Message.Type != stun.BindingSuccess {
			done <- fmt.Errorf("unexpected STUN response type %s", res.Message.Type)
			return
		}
		done <- nil
	})
	if err != nil {
		return Result{Server: server, Err: fmt.Errorf("start stun transaction: %w", err)}
	}

	select {
	case err := <-done:
		if err != nil {
			return Result{Server: server, Err: err, RTT: time.Since(start)}
		}
		return Result{Server: server, Reachable: true, RTT: time.Since(start)}
	case <-time.After(timeout):
		return Result{Server: server, Err: fmt.Errorf("timed out waiting for STUN response from %s", server)}
	}
}
