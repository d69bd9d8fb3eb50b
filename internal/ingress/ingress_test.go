package ingress

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninefl/psi-node/internal/wire"
)

type fakeEngine struct {
	res *wire.ExecuteResult
	err error
}

func (f *fakeEngine) Execute(ctx context.Context, req *wire.ExecuteRequest) (*wire.ExecuteResult, error) {
	return f.res, f.err
}

func TestHandlePsiRoundTrip(t *testing.T) {
	want := &wire.ExecuteResult{
		Header: &wire.ResultHeader{RequestID: "abc"},
		Keys:   [][]byte{{0x01, 0x02}},
	}
	_, router := NewRouter(context.Background(), &fakeEngine{res: want}, "default", nil)

	req := &wire.ExecuteRequest{Header: &wire.CorrelationHeader{RequestID: "abc"}, Keys: [][]byte{{0x09}}}
	body, err := req.MarshalBinary()
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/psi", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusOK, rec.Code)

	got := new(wire.ExecuteResult)
	require.NoError(t, got.UnmarshalBinary(rec.Body.Bytes()))
	assert.Equal(t, "abc", got.Header.RequestID)
	assert.Equal(t, want.Keys, got.Keys)
}

func TestHandlePsiMalformedBody(t *testing.T) {
	_, router := NewRouter(context.Background(), &fakeEngine{}, "default", nil)

	httpReq := httptest.NewRequest(http.MethodPost, "/psi", bytes.NewReader([]byte{0xff, 0xff, 0xff}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httpReq)

	require.Equal(t, http.StatusOK, rec.Code) // in-band error, not an HTTP error status

	got := new(wire.ExecuteResult)
	require.NoError(t, got.UnmarshalBinary(rec.Body.Bytes()))
	assert.NotEqual(t, int32(0), got.Header.Code)
}
