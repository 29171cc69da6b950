package router

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json mirrors encoding/json behaviour, including sorted map keys, so fixture
// bodies are byte-for-byte reproducible between runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ContentTypeJSON is the content type used by JSON responders.
const ContentTypeJSON = "application/json"

// Static always answers with resp. The body is shared, so callers must not
// mutate it after registering.
func Static(resp Response) Responder {
	return func(Request) (Response, error) {
		return resp, nil
	}
}

// JSON encodes v once and answers every request with it.
func JSON(status int, v interface{}) (Responder, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fixture body: %w", err)
	}
	return Static(Response{Status: status, ContentType: ContentTypeJSON, Body: body}), nil
}

// MustJSON is like JSON but panics if v cannot be encoded.
func MustJSON(status int, v interface{}) Responder {
	r, err := JSON(status, v)
	if err != nil {
		panic(err)
	}
	return r
}

// Passthrough lets every matched request reach the network.
func Passthrough() Responder {
	return func(Request) (Response, error) {
		return Response{}, ErrPassthrough
	}
}
