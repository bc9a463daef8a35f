package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var record = []byte(`{"schemaVersion":1,"mainConcern":"stress"}`)

func recordCID(t *testing.T) cid.Cid {
	t.Helper()
	c, err := Digest(record)
	require.NoError(t, err)
	return c
}

func readUpload(t *testing.T, r *http.Request) []byte {
	t.Helper()
	require.NoError(t, r.ParseMultipartForm(1<<20))
	f, _, err := r.FormFile("file")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestPinataBackend_Put(t *testing.T) {
	var gotOptions, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		data := readUpload(t, r)
		gotOptions = r.FormValue("pinataOptions")
		c, err := Digest(data)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"IpfsHash": c.String(), "PinSize": len(data), "Timestamp": "2025-04-15T10:00:00Z",
		})
	}))
	defer srv.Close()

	p, err := NewPinataBackend(PinataConfig{API: HTTPConfig{BaseURL: srv.URL}, JWT: "token"}, nil)
	require.NoError(t, err)
	got, err := p.Put(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, recordCID(t).String(), got)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.JSONEq(t, `{"cidVersion":1}`, gotOptions)
}

func TestPinataBackend_PutRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))
		http.Error(w, `{"error":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewPinataBackend(PinataConfig{API: HTTPConfig{BaseURL: srv.URL}, APIKey: "key", APISecret: "secret"}, nil)
	require.NoError(t, err)
	_, err = p.Put(context.Background(), record)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNewPinataBackend_RequiresCredentials(t *testing.T) {
	_, err := NewPinataBackend(PinataConfig{APIKey: "key"}, nil)
	assert.Error(t, err)
}

func TestPinataBackend_PutUnlabelledJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Digest(readUpload(t, r))
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"IpfsHash":"` + c.String() + `","PinSize":42}`))
	}))
	defer srv.Close()

	p, err := NewPinataBackend(PinataConfig{API: HTTPConfig{BaseURL: srv.URL}, JWT: "token"}, nil)
	require.NoError(t, err)
	got, err := p.Put(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, recordCID(t).String(), got)
}

func TestParseAddResponse(t *testing.T) {
	c := recordCID(t).String()
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr string
	}{
		{"single object", `{"Name":"intake.json","Hash":"` + c + `","Size":"42"}`, c, ""},
		{"streamed progress then result", "{\"Name\":\"\",\"Bytes\":42}\n{\"Name\":\"intake.json\",\"Hash\":\"" + c + "\",\"Size\":\"42\"}\n", c, ""},
		{"no hash", `{"Name":"intake.json"}`, "", "no Hash"},
		{"empty body", "", "", "no Hash"},
		{"not json", "<html>", "", "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAddResponse([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNodeBackend(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v0/add":
			assert.Equal(t, "1", r.URL.Query().Get("cid-version"))
			assert.Equal(t, "true", r.URL.Query().Get("raw-leaves"))
			data := readUpload(t, r)
			c, err := Digest(data)
			require.NoError(t, err)
			stored[c.String()] = data
			w.Header().Set("Content-Type", "text/plain")
			_ = json.NewEncoder(w).Encode(map[string]string{"Name": "intake.json", "Hash": c.String(), "Size": "42"})
		case "/api/v0/cat":
			data, ok := stored[r.URL.Query().Get("arg")]
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"Message":"block was not found locally (offline)","Code":0}`))
				return
			}
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	n := NewNodeBackend(HTTPConfig{BaseURL: srv.URL}, nil)
	got, err := n.Put(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, recordCID(t).String(), got)

	data, err := n.Get(context.Background(), recordCID(t))
	require.NoError(t, err)
	assert.Equal(t, record, data)

	missing, err := Digest([]byte("missing"))
	require.NoError(t, err)
	_, err = n.Get(context.Background(), missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGatewayBackend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/ipfs/"+recordCID(t).String() {
			http.NotFound(w, r)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		_, _ = w.Write(record)
	}))
	defer srv.Close()

	g := NewGatewayBackend("gateway", HTTPConfig{BaseURL: srv.URL, RetryCount: 2}, nil)
	_, err := g.Put(context.Background(), record)
	assert.ErrorIs(t, err, ErrReadOnly)

	data, err := g.Get(context.Background(), recordCID(t))
	require.NoError(t, err)
	assert.Equal(t, record, data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	missing, err := Digest([]byte("missing"))
	require.NoError(t, err)
	_, err = g.Get(context.Background(), missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PinataDownNodeServes(t *testing.T) {
	pinataSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer pinataSrv.Close()
	nodeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := readUpload(t, r)
		c, err := Digest(data)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{"Hash": c.String()})
	}))
	defer nodeSrv.Close()

	p, err := NewPinataBackend(PinataConfig{
		API:     HTTPConfig{BaseURL: pinataSrv.URL},
		Gateway: HTTPConfig{BaseURL: pinataSrv.URL},
		JWT:     "token",
	}, nil)
	require.NoError(t, err)
	store := New(nil, nil, p, NewNodeBackend(HTTPConfig{BaseURL: nodeSrv.URL}, nil))

	got, err := store.Upload(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, got.Equals(recordCID(t)))
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Backend(t *testing.T) {
	api := &fakeS3{objects: map[string][]byte{}}
	b, err := NewS3Backend(api, "intake", "records/", nil)
	require.NoError(t, err)

	got, err := b.Put(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, recordCID(t).String(), got)
	assert.Contains(t, api.objects, "intake/records/"+got)

	data, err := b.Get(context.Background(), recordCID(t))
	require.NoError(t, err)
	assert.Equal(t, record, data)

	missing, err := Digest([]byte("missing"))
	require.NoError(t, err)
	_, err = b.Get(context.Background(), missing)
	assert.ErrorIs(t, err, ErrNotFound)

	api.putErr = errors.New("access denied")
	_, err = b.Put(context.Background(), []byte("other"))
	assert.ErrorContains(t, err, "access denied")

	_, err = NewS3Backend(nil, "intake", "", nil)
	assert.Error(t, err)
}
