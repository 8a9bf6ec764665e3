package common

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

var jsonHandle = &codec.JsonHandle{}

// EncodeJSON marshals v into JSON.
func EncodeJSON(v interface{}) ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, jsonHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeJSON unmarshals data into v.
func DecodeJSON(data []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(data), jsonHandle)
	return dec.Decode(v)
}
