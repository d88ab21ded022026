package network

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/inference-sim/dsm-sim/sim"
)

// Field numbers of the request and response frames.
const (
	fieldAddress protowire.Number = 1
	fieldCommand protowire.Number = 2
	fieldID      protowire.Number = 3
	fieldValue   protowire.Number = 4
	fieldStatus  protowire.Number = 5
	fieldMessage protowire.Number = 6
)

// Response status codes.
const (
	statusOK uint64 = iota
	statusUnavailable
	statusTimeout
	statusError
)

// EncodeRequest serialises a request frame.
func EncodeRequest(r sim.Request) []byte {
	b := make([]byte, 0, 24)
	b = protowire.AppendTag(b, fieldAddress, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Address))
	b = protowire.AppendTag(b, fieldCommand, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Command))
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ID))
	return b
}

// DecodeRequest parses a request frame. Unknown fields are skipped; the
// command is not validated here, that is the Delegate's job.
func DecodeRequest(b []byte) (sim.Request, error) {
	var r sim.Request
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("request tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType || (num != fieldAddress && num != fieldCommand && num != fieldID) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return r, fmt.Errorf("request field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldAddress:
			r.Address = sim.Address(v)
		case fieldCommand:
			if v > 0xff {
				return r, fmt.Errorf("command %d does not fit a byte: %w", v, sim.ErrProtocol)
			}
			r.Command = sim.Command(v)
		case fieldID:
			r.ID = int64(v)
		}
	}
	return r, nil
}

// EncodeResponse serialises a response frame.
func EncodeResponse(r sim.Response) []byte {
	b := make([]byte, 0, 24)
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ID))
	b = protowire.AppendTag(b, fieldValue, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.Value))
	if r.Err != nil {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, statusOf(r.Err))
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Err.Error())
	}
	return b
}

// DecodeResponse parses a response frame.
func DecodeResponse(b []byte) (sim.Response, error) {
	var r sim.Response
	status := statusOK
	msg := ""
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("response tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("response id: %w", protowire.ParseError(n))
			}
			r.ID = int64(v)
			b = b[n:]
		case num == fieldValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("response value: %w", protowire.ParseError(n))
			}
			r.Value = protowire.DecodeZigZag(v)
			b = b[n:]
		case num == fieldStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("response status: %w", protowire.ParseError(n))
			}
			status = v
			b = b[n:]
		case num == fieldMessage && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("response message: %w", protowire.ParseError(n))
			}
			msg = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("response field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	r.Err = errorOf(status, msg)
	return r, nil
}

func statusOf(err error) uint64 {
	switch {
	case errors.Is(err, sim.ErrNetworkUnavailable):
		return statusUnavailable
	case errors.Is(err, sim.ErrRemoteTimeout):
		return statusTimeout
	default:
		return statusError
	}
}

func errorOf(status uint64, msg string) error {
	switch status {
	case statusOK:
		return nil
	case statusUnavailable:
		return fmt.Errorf("remote: %s: %w", msg, sim.ErrNetworkUnavailable)
	case statusTimeout:
		return fmt.Errorf("remote: %s: %w", msg, sim.ErrRemoteTimeout)
	default:
		return fmt.Errorf("remote: %s", msg)
	}
}
