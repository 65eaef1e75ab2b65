// Package models defines the node marker grammar shared by the prompt
// compiler and the traversal engine. The compiler instructs the agent to
// prefix each utterance with a marker; the engine treats a marker found in
// an assistant transcript as the authoritative current position. Keeping
// both sides on one definition makes the coupling an explicit contract.
package models

import (
	"fmt"
	"regexp"
)

// markerPattern matches a node marker anywhere in a transcript line and
// captures the node id.
var markerPattern = regexp.MustCompile(`\[\[NODE:([^\[\]\s]+)\]\]`)

// NodeMarker renders the machine-readable marker for a node id, exactly as
// the compiled script instructs the agent to emit it.
func NodeMarker(nodeID string) string {
	return fmt.Sprintf("[[NODE:%s]]", nodeID)
}

// ExtractNodeMarker returns the node id of the first marker found in the
// transcript, or "" when no marker is present.
func ExtractNodeMarker(transcript string) string {
	m := markerPattern.FindStringSubmatch(transcript)
	if m == nil {
		return ""
	}
	return m[1]
}
