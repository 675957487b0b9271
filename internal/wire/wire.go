// Package wire implements the agent<->hub wire format: every Message is
// encoded as an externally-tagged two-element tuple, (variant name,
// payload), using MessagePack.
//
// Grounded on hashicorp/serf's RPC client and IPC layer (the pack's only
// msgpack users), which decode a generic reply into an interface{} and
// re-shape it into a concrete struct with mapstructure rather than typing
// the whole decode path up front, the same two-step shape used here,
// since the concrete payload type for a frame isn't known until its
// variant tag has been read.
package wire

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/mitchellh/mapstructure"
)

var mh = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// Decode ambiguous "raw" values as Go strings and decode maps as
	// map[string]interface{}, both needed so the generic decode in
	// Decode below hands mapstructure something it can match field
	// names against, the same combination serf's IPC client relies on.
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	// Encode []byte fields (ShellInput.Bytes, ShellOutput.Bytes, ...) as
	// msgpack bin rather than folding them into the same str family as
	// RawToString above; otherwise the generic decode below hands
	// mapstructure a Go string for what must decode back into []byte.
	h.WriteExt = true
	return h
}

// Encode serializes a model.Message variant into a single binary frame.
// msg must be a pointer to a struct with exactly one non-nil pointer
// field (the Message convention in internal/model). Encoding is treated
// as infallible for the defined variants: every field type here is
// msgpack-encodable by construction, so the only error path is a caller
// passing a Message with no variant set, which is a programmer error we
// report rather than mask.
func Encode(msg any) ([]byte, error) {
	variant, payload := splitVariant(msg)
	if variant == "" {
		return nil, fmt.Errorf("wire: message has no set variant")
	}

	tuple := [2]any{variant, payload}
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, mh).Encode(&tuple); err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a single binary frame back into a model.Message with
// exactly the corresponding variant field set. Malformed frames are the
// caller's responsibility to log and drop; Decode just reports the error.
func Decode(frame []byte, out any) error {
	var tuple []any
	if err := codec.NewDecoderBytes(frame, mh).Decode(&tuple); err != nil {
		return fmt.Errorf("wire: decode frame: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("wire: frame has %d elements, want 2", len(tuple))
	}
	variant, ok := tuple[0].(string)
	if !ok {
		return fmt.Errorf("wire: frame variant tag is not a string")
	}

	field, err := variantField(out, variant)
	if err != nil {
		return err
	}

	newVal := reflect.New(field.Type().Elem())
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     newVal.Interface(),
		ZeroFields: true,
	})
	if err != nil {
		return fmt.Errorf("wire: build decoder for %q: %w", variant, err)
	}
	if err := dec.Decode(tuple[1]); err != nil {
		return fmt.Errorf("wire: decode payload for %q: %w", variant, err)
	}
	field.Set(newVal)
	return nil
}

// splitVariant finds the single non-nil pointer field on a Message value
// and returns its field name and dereferenced value.
func splitVariant(msg any) (string, any) {
	v := reflect.ValueOf(msg)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fv := v.Field(i)
		if fv.Kind() == reflect.Ptr && !fv.IsNil() {
			return t.Field(i).Name, fv.Interface()
		}
	}
	return "", nil
}

// variantField returns the addressable pointer field on out named variant.
func variantField(out any, variant string) (reflect.Value, error) {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("wire: decode target must be a pointer to struct")
	}
	f := v.Elem().FieldByName(variant)
	if !f.IsValid() {
		return reflect.Value{}, fmt.Errorf("wire: unknown message variant %q", variant)
	}
	if f.Kind() != reflect.Ptr {
		return reflect.Value{}, fmt.Errorf("wire: variant field %q is not a pointer", variant)
	}
	return f, nil
}
