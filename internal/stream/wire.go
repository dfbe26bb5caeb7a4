// Package stream implements the line-oriented wire format used for
// streaming responses, plus the relay that forwards a response stream to the
// client byte-for-byte while reconstructing text and usage on the side.
//
// The wire format is one JSON payload per physical line, prefixed with a
// small frame code and a colon:
//
//	0:{"type":"text-delta","textDelta":"Hel"}
//	2:{"type":"text","text":"full replacement"}
//	9:{"type":"tool-call","toolCallId":"call_1","toolName":"read_file","args":{...}}
//	10:{"type":"tool-result","toolCallId":"call_1","result":"..."}
//	8:{"type":"annotation","usage":{...}}
//	3:{"type":"error","message":"..."}
//	12:{"type":"finish","finishReason":"stop","usage":{...}}
//
// An alternate event-stream framing wraps the same payloads in "data: "
// blocks separated by blank lines; the parser accepts both.
package stream

// Frame codes. The parser keys off the payload's type field, not the code,
// but well-formed output always pairs them as below.
const (
	frameTextDelta  = "0"
	frameFullText   = "2"
	frameError      = "3"
	frameAnnotation = "8"
	frameToolCall   = "9"
	frameToolResult = "10"
	frameFinish     = "12"
)

// Payload type names.
const (
	typeTextDelta  = "text-delta"
	typeFullText   = "text"
	typeError      = "error"
	typeAnnotation = "annotation"
	typeToolCall   = "tool-call"
	typeToolResult = "tool-result"
	typeFinish     = "finish"
)
