// Package protocol defines the wire format shared by both bridge channels:
// the {type, data} envelope, the {success, data} reply, and the transport
// codec that turns either into a header- and text-frame-safe string.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrCodecFault is returned for values that cannot be serialized and for
// frames that are not valid base64-wrapped JSON.
var ErrCodecFault = errors.New("codec fault")

// Encode serializes v as JSON and wraps the result in standard base64.
// Values outside the JSON data model (channels, funcs, NaN) fail with
// ErrCodecFault.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrCodecFault, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode, unmarshalling the payload into v.
func Decode(s string, v any) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: base64: %v", ErrCodecFault, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: json: %v", ErrCodecFault, err)
	}
	return nil
}
