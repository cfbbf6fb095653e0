package cli

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/foldline/internal/core/domain"
)

//go:embed schema/request.schema.json
var requestSchema []byte

// readRequestFile loads a request from path, or stdin when path is "-".
func readRequestFile(path string, stdin io.Reader) (domain.PredictionRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // G304: path is supplied by the user
	}
	if err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("reading request: %w", err)
	}
	return parseRequest(data)
}

// parseRequest decodes a YAML or JSON request and checks it against the
// request schema before mapping it to the domain type.
func parseRequest(data []byte) (domain.PredictionRequest, error) {
	unmarshal := yaml.Unmarshal
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		unmarshal = json.Unmarshal
	}

	var doc any
	if err := unmarshal(data, &doc); err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("%w: parsing request: %w", domain.ErrInvalidInput, err)
	}

	problems, err := validateRequestDocument(doc)
	if err != nil {
		return domain.PredictionRequest{}, err
	}
	if len(problems) > 0 {
		return domain.PredictionRequest{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}

	var req domain.PredictionRequest
	if err := unmarshal(data, &req); err != nil {
		return domain.PredictionRequest{}, fmt.Errorf("%w: decoding request: %w", domain.ErrInvalidInput, err)
	}
	return req, nil
}

func validateRequestDocument(doc any) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(requestSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, fmt.Errorf("validating request: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
