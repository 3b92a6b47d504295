package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	graphrunerrors "github.com/alexisbeaulieu97/graphrun/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseDocument loads a graph document from disk, validates it, and returns the resulting model.
func ParseDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, graphrunerrors.NewParseError(path, 0, err)
	}
	return ParseDocumentBytes(path, data)
}

// ParseDocumentBytes decodes and validates an in-memory graph document. Unknown
// keys are rejected so typos surface as parse errors.
func ParseDocumentBytes(path string, data []byte) (*Document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, graphrunerrors.NewParseError(path, 0, errors.New("document is empty"))
		}
		return nil, graphrunerrors.NewParseError(path, extractLine(err), err)
	}

	if err := ValidateDocument(&doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
