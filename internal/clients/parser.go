package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Error variables for parser errors
var (
	// ErrJSONPathNotFound is returned when the JSON path does not exist in the document
	ErrJSONPathNotFound = errors.New("JSON path not found in response")
	// ErrRegexNoMatch is returned when the regex pattern does not match the content
	ErrRegexNoMatch = errors.New("regex pattern did not match")
	// ErrNoVersionFound is returned when no version could be extracted from upstream
	ErrNoVersionFound = errors.New("could not extract version from upstream")
	// ErrInvalidJSONPath is returned when the JSON path syntax is invalid
	ErrInvalidJSONPath = errors.New("invalid JSON path syntax")
	// ErrInvalidRegexPattern is returned when the regex pattern is invalid
	ErrInvalidRegexPattern = errors.New("invalid regex pattern")
	// ErrNoCaptureGroup is returned when the regex pattern has no capture group
	ErrNoCaptureGroup = errors.New("regex pattern must contain at least one capture group")
	// ErrUnknownParser is returned for an unrecognized parser type
	ErrUnknownParser = errors.New("unknown parser type")
)

// Parser extracts a version string from fetched content. Implementations
// cover JSON paths, regex capture groups, and HTML selectors.
type Parser interface {
	// Parse extracts a version string from the given content.
	Parse(content []byte) (string, error)
}

// NewParser builds a parser from an override configuration. parserType is
// one of "json", "regex", "css", or "xpath"; expr is the path, pattern,
// selector, or expression respectively.
func NewParser(parserType, expr string) (Parser, error) {
	switch parserType {
	case "json":
		return &JSONParser{Path: expr}, nil
	case "regex":
		return NewRegexParser(expr)
	case "css":
		return NewHTMLParser(expr, "", "")
	case "xpath":
		return NewHTMLParser("", expr, "")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, parserType)
	}
}

// JSONParser extracts version using a JSON path. The path supports dot
// notation and array indexing (e.g. "releases[0].version").
type JSONParser struct {
	// Path is the JSON path to the version field
	Path string
}

// Parse extracts a version string from JSON content using the configured path.
func (p *JSONParser) Parse(content []byte) (string, error) {
	if p.Path == "" {
		return "", ErrInvalidJSONPath
	}

	var data interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}

	result, err := navigateJSONPath(data, p.Path)
	if err != nil {
		return "", err
	}

	version, ok := toString(result)
	if !ok {
		return "", fmt.Errorf("%w: value at path is not a string", ErrJSONPathNotFound)
	}
	return version, nil
}

// RegexParser extracts version using a regex capture group.
type RegexParser struct {
	pattern *regexp.Regexp
}

// NewRegexParser compiles the pattern and validates that it captures.
func NewRegexParser(pattern string) (*RegexParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, ErrNoCaptureGroup
	}
	return &RegexParser{pattern: re}, nil
}

// Parse returns the first capture group of the first match.
func (p *RegexParser) Parse(content []byte) (string, error) {
	m := p.pattern.FindSubmatch(content)
	if m == nil || len(m) < 2 {
		return "", ErrRegexNoMatch
	}
	version := strings.TrimSpace(string(m[1]))
	if version == "" {
		return "", ErrNoVersionFound
	}
	return version, nil
}

// pathSegment is one step of a JSON path.
type pathSegment struct {
	field string
	index int
	isIdx bool
}

// navigateJSONPath walks data following dot notation and [n] indexing.
func navigateJSONPath(data interface{}, path string) (interface{}, error) {
	segments, err := parseJSONPath(path)
	if err != nil {
		return nil, err
	}

	current := data
	for _, seg := range segments {
		if seg.isIdx {
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected array at index %d", ErrJSONPathNotFound, seg.index)
			}
			if seg.index < 0 || seg.index >= len(arr) {
				return nil, fmt.Errorf("%w: array index %d out of bounds (length %d)", ErrJSONPathNotFound, seg.index, len(arr))
			}
			current = arr[seg.index]
			continue
		}
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: expected object at %q", ErrJSONPathNotFound, seg.field)
		}
		val, exists := obj[seg.field]
		if !exists {
			return nil, fmt.Errorf("%w: field %q not found", ErrJSONPathNotFound, seg.field)
		}
		current = val
	}
	return current, nil
}

// parseJSONPath splits "a.b[2].c" into field and index segments.
func parseJSONPath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidJSONPath, path)
		}
		for {
			open := strings.Index(part, "[")
			if open < 0 {
				if part != "" {
					segments = append(segments, pathSegment{field: part})
				}
				break
			}
			if open > 0 {
				segments = append(segments, pathSegment{field: part[:open]})
			}
			closeIdx := strings.Index(part, "]")
			if closeIdx < open {
				return nil, fmt.Errorf("%w: unmatched bracket in %q", ErrInvalidJSONPath, path)
			}
			idx, err := strconv.Atoi(part[open+1 : closeIdx])
			if err != nil {
				return nil, fmt.Errorf("%w: bad index in %q", ErrInvalidJSONPath, path)
			}
			segments = append(segments, pathSegment{index: idx, isIdx: true})
			part = part[closeIdx+1:]
			if part == "" {
				break
			}
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJSONPath, path)
	}
	return segments, nil
}

// toString converts a JSON scalar to its string form.
func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
