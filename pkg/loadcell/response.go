// Load cell response decoding
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package loadcell

import "flashforge-host/pkg/mculink"

// Reply is one decoded flashforge_loadcell_response message. Missing or
// malformed fields fall back to safe defaults rather than failing the
// decode: value 0, status "unknown", empty strings.
type Reply struct {
	Command string
	Status  string
	Value   int
	Raw     string
}

func decodeReply(params mculink.Params) Reply {
	reply := Reply{Status: "unknown"}

	if s, ok := params["command"].(string); ok {
		reply.Command = s
	}
	if s, ok := params["status"].(string); ok {
		reply.Status = s
	}
	if n, ok := params["value"].(int); ok {
		reply.Value = n
	}
	if s, ok := params["raw_response"].(string); ok {
		reply.Raw = s
	}
	return reply
}
