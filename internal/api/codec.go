package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Messages of wptrack.v1.Archive travel as JSON instead of protobuf. The
// codec and the hand-written service descriptor stand in for generated
// wptrack/v1 stubs; swapping them in later changes neither the method names
// nor the request and response fields.

// CodecName is the content subtype both ends negotiate ("application/grpc+json").
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
