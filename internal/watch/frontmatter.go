package watch

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// splitFrontMatter separates a `---\n...\n---\n` YAML header from the
// remainder of a file's content. It returns the raw header bytes (empty
// if the file has none) and the body that follows.
func splitFrontMatter(data []byte) (header, body []byte, err error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, data, nil
	}

	rest := trimmed[len(delim):]
	rest = bytes.TrimPrefix(rest, []byte("\n"))
	end := bytes.Index(rest, []byte("\n"+delim))
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated front matter header")
	}
	header = rest[:end]
	after := rest[end+len("\n"+delim):]
	body = bytes.TrimPrefix(after, []byte("\n"))
	return header, body, nil
}

// unmarshalFrontMatter parses a file's YAML front matter into v.
func unmarshalFrontMatter(data []byte, v any) (body []byte, err error) {
	header, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(header))) == 0 {
		return body, nil
	}
	if err := yaml.Unmarshal(header, v); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	return body, nil
}
