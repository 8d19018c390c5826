// Package codec converts raw MIDI buffers to a text form that can cross the
// engine boundary inside a line-delimited JSON message, and back.
//
// The text form is standard padded base64. Its alphabet never contains quote
// characters, newlines or backslashes, so it can be embedded in any delimited
// text payload.
package codec

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
)

var enc = base64.StdEncoding

// Encode returns the transit-safe text form of data.
func Encode(data []byte) string {
	return enc.EncodeToString(data)
}

// Decode reverses Encode. Any text Encode could not have produced is
// rejected with ErrMalformedEncoding.
func Decode(text string) ([]byte, error) {
	data, err := enc.Strict().DecodeString(text)
	if err != nil {
		return nil, apperrors.NewEngineError(apperrors.KindMalformedEncoding, "decode",
			fmt.Sprintf("%d chars of transit text", len(text)), err)
	}
	return data, nil
}
