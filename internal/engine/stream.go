package engine

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// streamBufferLimit bounds the parser's line buffer. If the buffer grows
// past this without producing a complete line, the fragment is discarded so
// a single malformed or truncated event cannot wedge the parser.
const streamBufferLimit = 1 << 20 // 1 MB

// StreamParser is a format-tolerant, line-buffered parser for streaming
// JSON engine output. Malformed lines are skipped and parsing resumes on
// the next newline; valid events contribute tool names and file paths.
// Safe for a feeder and a reader running concurrently: an abandoned drain
// goroutine may still be feeding when results are collected.
type StreamParser struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	tools map[string]bool
	files map[string]bool
}

// NewStreamParser creates an empty StreamParser.
func NewStreamParser() *StreamParser {
	return &StreamParser{
		tools: make(map[string]bool),
		files: make(map[string]bool),
	}
}

// Feed appends raw output bytes and consumes any complete lines.
func (p *StreamParser) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(data)

	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			if p.buf.Len() > streamBufferLimit {
				p.buf.Reset()
			}
			return
		}
		line := make([]byte, idx)
		copy(line, raw[:idx])
		p.buf.Next(idx + 1)
		p.consumeLine(line)
	}
}

// Finish parses any trailing unterminated line.
func (p *StreamParser) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() == 0 {
		return
	}
	line := p.buf.Bytes()
	p.buf.Reset()
	p.consumeLine(line)
}

// Tools returns the sorted set of tool names observed so far.
func (p *StreamParser) Tools() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.tools)
}

// Files returns the sorted set of file paths observed so far.
func (p *StreamParser) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.files)
}

func (p *StreamParser) consumeLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var event map[string]interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		// Malformed fragment: drop it and resynchronize on the next line.
		return
	}
	p.collectEvent(event)
}

// collectEvent walks one decoded event for tool_use blocks. Engines emit
// these in a few shapes; all known ones are checked.
func (p *StreamParser) collectEvent(event map[string]interface{}) {
	// Shape 1: message.content is an array containing tool_use objects.
	if msg, ok := event["message"].(map[string]interface{}); ok {
		if content, ok := msg["content"].([]interface{}); ok {
			p.collectContent(content)
		}
	}

	// Shape 2: content array at the top level.
	if content, ok := event["content"].([]interface{}); ok {
		p.collectContent(content)
	}

	// Shape 3: the event itself is a tool_use record.
	if t, _ := event["type"].(string); t == "tool_use" {
		p.collectToolUse(event)
	}
}

func (p *StreamParser) collectContent(content []interface{}) {
	for _, item := range content {
		block, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t == "tool_use" {
			p.collectToolUse(block)
		}
	}
}

func (p *StreamParser) collectToolUse(block map[string]interface{}) {
	name, _ := block["name"].(string)
	if name == "" {
		return
	}
	p.tools[name] = true

	input, _ := block["input"].(map[string]interface{})
	if input == nil {
		return
	}
	if !codeMutatingTools[name] {
		return
	}
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if path, ok := input[key].(string); ok && path != "" {
			p.files[path] = true
			return
		}
	}
}

// singleDocument is the tolerant shape of a single-JSON-document engine
// report. Unknown fields are ignored; absent fields yield empty sets.
type singleDocument struct {
	ToolsUsed []string `json:"tools_used"`
	ToolCalls []struct {
		Tool     string `json:"tool"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		FilePath string `json:"file_path"`
	} `json:"tool_calls"`
	FilesChanged []string `json:"files_changed"`
}

// ParseSingleDocument extracts tool and file sets from a one-document JSON
// report. A document that does not decode yields empty sets, not an error:
// the exit code, not the report, decides success.
func ParseSingleDocument(output []byte) (tools, files []string) {
	var doc singleDocument
	if err := json.Unmarshal(bytes.TrimSpace(output), &doc); err != nil {
		return nil, nil
	}

	toolSet := make(map[string]bool)
	fileSet := make(map[string]bool)
	for _, t := range doc.ToolsUsed {
		if t != "" {
			toolSet[t] = true
		}
	}
	for _, call := range doc.ToolCalls {
		name := call.Tool
		if name == "" {
			name = call.Name
		}
		if name == "" {
			continue
		}
		toolSet[name] = true
		path := call.FilePath
		if path == "" {
			path = call.Path
		}
		if path != "" && codeMutatingTools[name] {
			fileSet[path] = true
		}
	}
	for _, f := range doc.FilesChanged {
		if f != "" {
			fileSet[f] = true
		}
	}
	return sortedKeys(toolSet), sortedKeys(fileSet)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
