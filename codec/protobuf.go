package codec

import "google.golang.org/protobuf/proto"

var (
	protoMarshal   = proto.MarshalOptions{Deterministic: true}
	protoUnmarshal = proto.UnmarshalOptions{DiscardUnknown: true}
)

// Protobuf stores messages with deterministic field order. Unknown fields
// written by a newer schema are dropped on read.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

// NewProtobuf takes the constructor of the concrete message, for example
// func() *pb.Manifest { return &pb.Manifest{} }.
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return protoMarshal.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	err := protoUnmarshal.Unmarshal(b, m)
	return m, err
}
