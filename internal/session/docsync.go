// Document-sync reconciliation for textDocument/didChange: mirrors
// client edits onto the file backing each open document so the language
// server and the on-disk workspace never diverge.
//
// Position math uses myleshyson/lsprotocol-go/protocol's Position as a
// pure Go value — constructed and consumed purely for its field shape,
// never round-tripped through the library's own JSON tags; ranges are
// decoded by the local didChangeParams/contentChange DTOs below, which
// parse the wire JSON themselves (verified field names come
// from lsp/methods.go's Position{Line, Character uint32} / Range{Start,
// End Position} usage; the DTOs here only need to decode the subset of
// textDocument/didChange's wire shape relevant to edit application).
//
// Positions are treated as rune offsets within a line rather than UTF-16
// code-unit offsets. This is a known, documented limitation: the LSP
// spec mandates UTF-16 offsets, and a document containing non-BMP
// characters (e.g. emoji) will apply edits at the wrong column under this
// implementation. The original Python source (services/lsp_manager.py)
// exhibits the identical limitation; spec.md explicitly permits carrying
// it forward "if documented as a known limitation."
package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

type didChangeParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	ContentChanges []contentChange `json:"contentChanges"`
}

type contentChange struct {
	Range *struct {
		Start rangePoint `json:"start"`
		End   rangePoint `json:"end"`
	} `json:"range"`
	Text string `json:"text"`
}

type rangePoint struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

func (p rangePoint) toPosition() protocol.Position {
	return protocol.Position{Line: p.Line, Character: p.Character}
}

// applyContentChanges applies an ordered list of TextDocumentContentChangeEvent
// values to current, returning the resulting text. A change with no Range
// is a full-document replacement; one with a Range is applied as an
// incremental edit at the given [start, end) span.
func applyContentChanges(current string, changes []contentChange) (string, error) {
	text := current
	for _, ch := range changes {
		if ch.Range == nil {
			text = ch.Text
			continue
		}
		start := ch.Range.Start.toPosition()
		end := ch.Range.End.toPosition()
		next, err := applyIncrementalEdit(text, start, end, ch.Text)
		if err != nil {
			return "", err
		}
		text = next
	}
	return text, nil
}

// applyIncrementalEdit replaces the span [start, end) in text (positions
// expressed as line/rune-offset pairs) with replacement.
func applyIncrementalEdit(text string, start, end protocol.Position, replacement string) (string, error) {
	lines := splitLinesKeepEnds(text)

	startOffset, err := lineColToOffset(lines, start)
	if err != nil {
		return "", fmt.Errorf("docsync: start position: %w", err)
	}
	endOffset, err := lineColToOffset(lines, end)
	if err != nil {
		return "", fmt.Errorf("docsync: end position: %w", err)
	}
	if endOffset < startOffset {
		return "", fmt.Errorf("docsync: end position precedes start position")
	}

	runes := []rune(text)
	var b strings.Builder
	b.WriteString(string(runes[:startOffset]))
	b.WriteString(replacement)
	b.WriteString(string(runes[endOffset:]))
	return b.String(), nil
}

// splitLinesKeepEnds splits text into lines, each retaining its trailing
// newline (if any) so offsets computed against it stay consistent with
// the rune-offset scheme used by lineColToOffset.
func splitLinesKeepEnds(text string) []string {
	var lines []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			lines = append(lines, string(runes[start:i+1]))
			start = i + 1
		}
	}
	lines = append(lines, string(runes[start:]))
	return lines
}

// lineColToOffset converts a (line, character) position into a rune
// offset into the full text reconstructed from lines.
func lineColToOffset(lines []string, pos protocol.Position) (int, error) {
	if int(pos.Line) >= len(lines) {
		return 0, fmt.Errorf("line %d out of range (document has %d lines)", pos.Line, len(lines))
	}
	offset := 0
	for i := 0; i < int(pos.Line); i++ {
		offset += len([]rune(lines[i]))
	}
	lineRunes := []rune(lines[pos.Line])
	col := int(pos.Character)
	if col > len(lineRunes) {
		col = len(lineRunes)
	}
	return offset + col, nil
}

// decodeDidChangeParams parses raw textDocument/didChange params.
func decodeDidChangeParams(raw json.RawMessage) (*didChangeParams, error) {
	var p didChangeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("docsync: decoding didChange params: %w", err)
	}
	return &p, nil
}
