package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/garvis/router/services"
)

// GenerateRequest is an Ollama generate body. Fields the router does not
// interpret are carried through to the backend untouched.
type GenerateRequest struct {
	RequestID string
	Model     string
	Prompt    string
	Stream    *bool
	Options   map[string]interface{}

	fields map[string]json.RawMessage
}

// ParseGenerateRequest decodes a generate body. Anything that is not a JSON
// object with string model/prompt fields is an invalid request.
func ParseGenerateRequest(requestID string, body []byte) (*GenerateRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, services.ErrInvalidRequest.Wrap(fmt.Errorf("empty request body"))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, services.ErrInvalidRequest.Wrap(fmt.Errorf("request body must be a JSON object")).
			WithDetail("cause", errString(err))
	}

	req := &GenerateRequest{RequestID: requestID, fields: fields}
	if err := decodeField(fields, "model", &req.Model); err != nil {
		return nil, err
	}
	if err := decodeField(fields, "prompt", &req.Prompt); err != nil {
		return nil, err
	}
	if err := decodeField(fields, "stream", &req.Stream); err != nil {
		return nil, err
	}
	if err := decodeField(fields, "options", &req.Options); err != nil {
		return nil, err
	}
	return req, nil
}

// NewGenerateRequest builds a request from typed fields.
func NewGenerateRequest(requestID, model, prompt string) *GenerateRequest {
	return &GenerateRequest{
		RequestID: requestID,
		Model:     model,
		Prompt:    prompt,
		fields:    map[string]json.RawMessage{},
	}
}

// backendBody renders the body sent upstream: model rewritten, alias defaults
// merged under the client's own options, streaming off.
func (r *GenerateRequest) backendBody(realModel string, defaults map[string]interface{}) ([]byte, error) {
	out := make(map[string]interface{}, len(r.fields)+3)
	for k, v := range r.fields {
		out[k] = v
	}
	out["model"] = realModel
	out["prompt"] = r.Prompt
	out["stream"] = false

	if options := mergeOptions(defaults, r.Options); len(options) > 0 {
		out["options"] = options
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, services.WrapInternal("failed to encode backend request", err)
	}
	return body, nil
}

func mergeOptions(defaults, client map[string]interface{}) map[string]interface{} {
	if len(defaults) == 0 {
		return client
	}
	merged := make(map[string]interface{}, len(defaults)+len(client))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range client {
		merged[k] = v
	}
	return merged
}

func decodeField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return services.ErrInvalidRequest.Wrap(fmt.Errorf("field %q has the wrong type", name)).
			WithDetail("field", name)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "null body"
	}
	return err.Error()
}
