// Package qrcodec converts signed QR payloads to and from the compact
// pipe-delimited string rendered into QR labels:
//
//	V{version}|{type}|{token}|{ref}|{timestamp}|{signature}
package qrcodec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Version is the current wire format version.
	Version = 1

	TypePermanent = "P"
	TypeTemporary = "T"

	separator     = "|"
	versionMarker = "V"
	fieldCount    = 6
)

var (
	ErrMalformedPayload = errors.New("malformed qr payload")
	ErrUnencodable      = errors.New("qr payload field contains separator")
)

type Payload struct {
	Version   int
	Type      string
	Token     string
	Ref       string
	Timestamp int64
	Signature string
}

// Encode renders p in the compact wire format.
func Encode(p Payload) string {
	return SignableData(p) + separator + p.Signature
}

// SignableData is the wire format without the trailing signature field.
func SignableData(p Payload) string {
	var b strings.Builder
	b.WriteString(versionMarker)
	b.WriteString(strconv.Itoa(p.Version))
	b.WriteString(separator)
	b.WriteString(p.Type)
	b.WriteString(separator)
	b.WriteString(p.Token)
	b.WriteString(separator)
	b.WriteString(p.Ref)
	b.WriteString(separator)
	b.WriteString(strconv.FormatInt(p.Timestamp, 10))
	return b.String()
}

// Validate reports whether p survives an Encode/Decode round trip.
func Validate(p Payload) error {
	for name, v := range map[string]string{
		"type":      p.Type,
		"token":     p.Token,
		"ref":       p.Ref,
		"signature": p.Signature,
	} {
		if strings.Contains(v, separator) {
			return fmt.Errorf("%w: %s", ErrUnencodable, name)
		}
	}

	if p.Type != TypePermanent && p.Type != TypeTemporary {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, p.Type)
	}

	return nil
}

func Decode(s string) (Payload, error) {
	if !strings.HasPrefix(s, versionMarker) {
		return Payload{}, fmt.Errorf("%w: missing version marker", ErrMalformedPayload)
	}

	parts := strings.Split(s, separator)
	if len(parts) != fieldCount {
		return Payload{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedPayload, fieldCount, len(parts))
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[0], versionMarker))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: invalid version %q", ErrMalformedPayload, parts[0])
	}

	if parts[1] != TypePermanent && parts[1] != TypeTemporary {
		return Payload{}, fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, parts[1])
	}

	ts, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedPayload, parts[4])
	}

	return Payload{
		Version:   version,
		Type:      parts[1],
		Token:     parts[2],
		Ref:       parts[3],
		Timestamp: ts,
		Signature: parts[5],
	}, nil
}
