// Package wire defines the request/result envelope exchanged between the
// HTTP ingress, the Engine, the Policy/Batcher, and the peer RPC transport.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// Kind classifies a request-scoped failure so callers can decide whether to
// retry, reconnect, or simply report it in-band.
type Kind int

const (
	// KindBadInput marks a malformed record length or curve-point encoding.
	KindBadInput Kind = iota
	// KindPeerUnavailable marks a transport error classified as Unavailable.
	KindPeerUnavailable
	// KindPeerError marks any other transport or peer-side failure.
	KindPeerError
	// KindInFlightReported marks a peer response with a non-zero code.
	KindInFlightReported
	// KindSendClosed marks a dispatch queue that is closed (shutdown).
	KindSendClosed
	// KindLocalFatal marks a start-up failure: curve setup, bind, TLS load.
	KindLocalFatal
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "BadInput"
	case KindPeerUnavailable:
		return "PeerUnavailable"
	case KindPeerError:
		return "PeerError"
	case KindInFlightReported:
		return "InFlightReported"
	case KindSendClosed:
		return "SendClosed"
	case KindLocalFatal:
		return "LocalFatal"
	default:
		return "Unknown"
	}
}

// Error is the error type carried through the Policy/Batcher/Peer layers.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a Kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CorrelationHeader carries a caller-chosen request id and opaque metadata
// across the ingress -> engine -> policy -> peer hop.
type CorrelationHeader struct {
	RequestID string
	Metadata  map[string]string
}

// ResultHeader is a CorrelationHeader plus an in-band status.
type ResultHeader struct {
	RequestID string
	Metadata  map[string]string
	Code      int32
	Msg       string
}

// ExecuteRequest is one client PSI call: an ordered sequence of opaque
// records, with ordering significant end to end.
type ExecuteRequest struct {
	Header *CorrelationHeader
	Keys   [][]byte
}

// ExecuteResult mirrors ExecuteRequest: len(Keys) == len(request.Keys),
// and position i corresponds to position i of the request.
type ExecuteResult struct {
	Header *ResultHeader
	Keys   [][]byte
}

// EnsureRequestID fills in a v4 UUID request id when the caller omitted one,
// so every request flowing past the ingress carries a correlation id.
func (r *ExecuteRequest) EnsureRequestID() {
	if r.Header == nil {
		r.Header = &CorrelationHeader{}
	}
	if r.Header.RequestID == "" {
		r.Header.RequestID = uuid.NewV4().String()
	}
}

// BackHeader builds the ResultHeader that accompanies a successful peer
// response: request_id and metadata copied from the request, code zeroed.
func BackHeader(h *CorrelationHeader) *ResultHeader {
	if h == nil {
		return &ResultHeader{Metadata: map[string]string{}}
	}
	return &ResultHeader{
		RequestID: h.RequestID,
		Metadata:  h.Metadata,
	}
}

// FromError converts a per-request failure into an in-band ExecuteResult
// envelope: code = -1, msg = "err:<detail>", preserving request_id and
// metadata from the request header when present.
func FromError(err error, header *CorrelationHeader) *ExecuteResult {
	rh := &ResultHeader{Code: -1, Msg: fmt.Sprintf("err:%s", err)}
	if header != nil {
		rh.RequestID = header.RequestID
		rh.Metadata = header.Metadata
	}
	return &ExecuteResult{Header: rh}
}

var (
	// ErrTruncated is returned by Unmarshal when the buffer ends mid-field.
	ErrTruncated = errors.New("wire: truncated message")
	// ErrLengthMismatch marks a peer-contract violation: the peer's result
	// key count did not match the sum of the batch members' request keys.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Wire tags. Field numbering mirrors a conventional protobuf layout for
// these messages; see SPEC_FULL.md §9.1 for why this is a hand-written
// codec rather than generated protoc-gen-go output.
const (
	tagReqHeader = 1
	tagReqKeys   = 2

	tagHdrRequestID = 1
	tagHdrMetadata  = 2

	tagResHeader = 1
	tagResKeys   = 2

	tagRHdrRequestID = 1
	tagRHdrMetadata  = 2
	tagRHdrCode      = 3
	tagRHdrMsg       = 4

	tagMapKey   = 1
	tagMapValue = 2

	wireVarint = 0
	wireBytes  = 2
)

func writeTag(buf *bytes.Buffer, field, wireType int) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(field)<<3|uint64(wireType))
	buf.Write(tmp[:n])
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytesField(buf *bytes.Buffer, field int, b []byte) {
	writeTag(buf, field, wireBytes)
	writeVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeStringField(buf *bytes.Buffer, field int, s string) {
	if s == "" {
		return
	}
	writeBytesField(buf, field, []byte(s))
}

func writeInt32Field(buf *bytes.Buffer, field int, v int32) {
	if v == 0 {
		return
	}
	writeTag(buf, field, wireVarint)
	// Proto3 encodes negative int32s as the 10-byte varint form of their
	// sign-extended int64 representation.
	writeVarint(buf, uint64(int64(v)))
}

func writeMetadata(buf *bytes.Buffer, field int, md map[string]string) {
	// Deterministic ordering keeps encode output reproducible for tests.
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		var entry bytes.Buffer
		writeStringField(&entry, tagMapKey, k)
		writeStringField(&entry, tagMapValue, md[k])
		writeBytesField(buf, field, entry.Bytes())
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

type fieldReader struct {
	data []byte
}

func (r *fieldReader) done() bool { return len(r.data) == 0 }

func (r *fieldReader) readTag() (field, wireType int, err error) {
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		return 0, 0, ErrTruncated
	}
	r.data = r.data[n:]
	return int(v >> 3), int(v & 0x7), nil
}

func (r *fieldReader) readVarint() (uint64, error) {
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.data = r.data[n:]
	return v, nil
}

func (r *fieldReader) readBytes() ([]byte, error) {
	l, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.data)) < l {
		return nil, ErrTruncated
	}
	b := r.data[:l]
	r.data = r.data[l:]
	return b, nil
}

func readMetadataEntry(b []byte) (key, value string, err error) {
	r := &fieldReader{data: b}
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return "", "", err
		}
		switch {
		case field == tagMapKey && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return "", "", err
			}
			key = string(v)
		case field == tagMapValue && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return "", "", err
			}
			value = string(v)
		default:
			if err := skipField(r, wt); err != nil {
				return "", "", err
			}
		}
	}
	return key, value, nil
}

func skipField(r *fieldReader, wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := r.readVarint()
		return err
	case wireBytes:
		_, err := r.readBytes()
		return err
	default:
		return fmt.Errorf("wire: unsupported wire type %d", wireType)
	}
}

// MarshalBinary encodes the envelope as a length-delimited, protobuf-shaped
// message (see SPEC_FULL.md §9.1).
func (r *ExecuteRequest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if r.Header != nil {
		var hbuf bytes.Buffer
		writeStringField(&hbuf, tagHdrRequestID, r.Header.RequestID)
		writeMetadata(&hbuf, tagHdrMetadata, r.Header.Metadata)
		writeBytesField(&buf, tagReqHeader, hbuf.Bytes())
	}
	for _, k := range r.Keys {
		writeBytesField(&buf, tagReqKeys, k)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an ExecuteRequest encoded by MarshalBinary.
func (r *ExecuteRequest) UnmarshalBinary(data []byte) error {
	fr := &fieldReader{data: data}
	for !fr.done() {
		field, wt, err := fr.readTag()
		if err != nil {
			return err
		}
		switch {
		case field == tagReqHeader && wt == wireBytes:
			hb, err := fr.readBytes()
			if err != nil {
				return err
			}
			h, err := decodeHeader(hb)
			if err != nil {
				return err
			}
			r.Header = h
		case field == tagReqKeys && wt == wireBytes:
			kb, err := fr.readBytes()
			if err != nil {
				return err
			}
			cp := make([]byte, len(kb))
			copy(cp, kb)
			r.Keys = append(r.Keys, cp)
		default:
			if err := skipField(fr, wt); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeHeader(data []byte) (*CorrelationHeader, error) {
	h := &CorrelationHeader{Metadata: map[string]string{}}
	r := &fieldReader{data: data}
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch {
		case field == tagHdrRequestID && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			h.RequestID = string(v)
		case field == tagHdrMetadata && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			k, val, err := readMetadataEntry(v)
			if err != nil {
				return nil, err
			}
			h.Metadata[k] = val
		default:
			if err := skipField(r, wt); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// MarshalBinary encodes the envelope as a length-delimited, protobuf-shaped
// message (see SPEC_FULL.md §9.1).
func (r *ExecuteResult) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if r.Header != nil {
		var hbuf bytes.Buffer
		writeStringField(&hbuf, tagRHdrRequestID, r.Header.RequestID)
		writeMetadata(&hbuf, tagRHdrMetadata, r.Header.Metadata)
		writeInt32Field(&hbuf, tagRHdrCode, r.Header.Code)
		writeStringField(&hbuf, tagRHdrMsg, r.Header.Msg)
		writeBytesField(&buf, tagResHeader, hbuf.Bytes())
	}
	for _, k := range r.Keys {
		writeBytesField(&buf, tagResKeys, k)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an ExecuteResult encoded by MarshalBinary.
func (r *ExecuteResult) UnmarshalBinary(data []byte) error {
	fr := &fieldReader{data: data}
	for !fr.done() {
		field, wt, err := fr.readTag()
		if err != nil {
			return err
		}
		switch {
		case field == tagResHeader && wt == wireBytes:
			hb, err := fr.readBytes()
			if err != nil {
				return err
			}
			h, err := decodeResultHeader(hb)
			if err != nil {
				return err
			}
			r.Header = h
		case field == tagResKeys && wt == wireBytes:
			kb, err := fr.readBytes()
			if err != nil {
				return err
			}
			cp := make([]byte, len(kb))
			copy(cp, kb)
			r.Keys = append(r.Keys, cp)
		default:
			if err := skipField(fr, wt); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeResultHeader(data []byte) (*ResultHeader, error) {
	h := &ResultHeader{Metadata: map[string]string{}}
	r := &fieldReader{data: data}
	for !r.done() {
		field, wt, err := r.readTag()
		if err != nil {
			return nil, err
		}
		switch {
		case field == tagRHdrRequestID && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			h.RequestID = string(v)
		case field == tagRHdrMetadata && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			k, val, err := readMetadataEntry(v)
			if err != nil {
				return nil, err
			}
			h.Metadata[k] = val
		case field == tagRHdrCode && wt == wireVarint:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			h.Code = int32(int64(v))
		case field == tagRHdrMsg && wt == wireBytes:
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			h.Msg = string(v)
		default:
			if err := skipField(r, wt); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}
