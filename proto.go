package parcel

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
	"google.golang.org/protobuf/proto"
)

// ProtoCodec carries one protobuf message type as a length-prefixed span
// of its deterministic binary encoding.
type ProtoCodec struct {
	template proto.Message
	t        reflect.Type
	fp       Fingerprint
}

var protoMarshal = proto.MarshalOptions{Deterministic: true}

// NewProtoCodec binds a codec to the message type of template.
func NewProtoCodec(template proto.Message) (*ProtoCodec, error) {
	if template == nil {
		return nil, fmt.Errorf("%w: nil proto template", ErrMalformedCodec)
	}
	t := reflect.TypeOf(template)
	return &ProtoCodec{template: template, t: t, fp: FingerprintOfType(t)}, nil
}

func (c *ProtoCodec) Fingerprints() []Fingerprint { return []Fingerprint{c.fp} }

func (c *ProtoCodec) Type(fp Fingerprint) reflect.Type {
	if fp != c.fp {
		return nil
	}
	return c.t
}

func (c *ProtoCodec) Write(dst wire.Sink, v any, _ *Registry) error {
	m, ok := v.(proto.Message)
	if !ok || reflect.TypeOf(v) != c.t {
		return fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, TypeName(c.t))
	}
	data, err := protoMarshal.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrObjectCodec, TypeName(c.t), err)
	}
	return dst.WriteBytes(data)
}

func (c *ProtoCodec) Read(src wire.Source, _ *Registry) (any, error) {
	data, err := src.ReadBytes()
	if err != nil {
		return nil, err
	}
	out := c.template.ProtoReflect().New().Interface()
	if err := proto.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrObjectCodec, TypeName(c.t), err)
	}
	return out, nil
}
