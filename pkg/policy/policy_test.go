package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/substrate-robotics/armloop/pkg/robot"
)

func TestHTTPConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HTTPConfig
		wantErr bool
	}{
		{"valid", HTTPConfig{Endpoint: "http://x/predict", Timeout: time.Second, ChunkSize: 10}, false},
		{"missing endpoint", HTTPConfig{Timeout: time.Second, ChunkSize: 10}, true},
		{"zero timeout", HTTPConfig{Endpoint: "http://x", ChunkSize: 10}, true},
		{"zero chunk", HTTPConfig{Endpoint: "http://x", Timeout: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_Predict(t *testing.T) {
	const horizon = 3
	var gotReq predictRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		actions := make([][]float64, horizon)
		for i := range actions {
			actions[i] = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
		}
		json.NewEncoder(w).Encode(predictResponse{Actions: actions})
	}))
	defer srv.Close()

	c, err := NewClient(HTTPConfig{Endpoint: srv.URL, Timeout: time.Second, ChunkSize: horizon})
	require.NoError(t, err)

	state := robot.JointState{
		Q:         []float64{1, 2, 3, 4, 5, 6},
		Dq:        make([]float64, 6),
		Timestamp: time.Now(),
	}
	chunk, err := c.Predict(context.Background(), state, []byte("jpegbytes"))
	require.NoError(t, err)

	assert.Equal(t, horizon, chunk.Len())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, gotReq.Qpos)
	assert.NotEmpty(t, gotReq.ImageB64)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, chunk.At(0))
}

func TestClient_Predict_WrongShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{Actions: [][]float64{{1, 2}}})
	}))
	defer srv.Close()

	c, err := NewClient(HTTPConfig{Endpoint: srv.URL, Timeout: time.Second, ChunkSize: 3})
	require.NoError(t, err)

	state := robot.JointState{Q: make([]float64, 6), Dq: make([]float64, 6)}
	_, err = c.Predict(context.Background(), state, nil)
	assert.Error(t, err)
}

func TestClient_Predict_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(HTTPConfig{Endpoint: srv.URL, Timeout: time.Second, ChunkSize: 3})
	require.NoError(t, err)

	state := robot.JointState{Q: make([]float64, 6), Dq: make([]float64, 6)}
	_, err = c.Predict(context.Background(), state, nil)
	assert.Error(t, err)
}

func TestChunk_AtReturnsCopy(t *testing.T) {
	chunk := ActionChunk{Actions: [][]float64{{1, 2, 3}}}
	a := chunk.At(0)
	a[0] = 99
	assert.Equal(t, 1.0, chunk.Actions[0][0])
}

func TestScripted_Hold(t *testing.T) {
	o := Hold(4)
	state := robot.JointState{Q: []float64{0.5, 0, 0, 0, 0, 0}, Dq: make([]float64, 6)}

	chunk, err := o.Predict(context.Background(), state, nil)
	require.NoError(t, err)
	require.NoError(t, chunk.Validate(4, 6))
	for i := 0; i < 4; i++ {
		assert.Equal(t, state.Q, chunk.At(i))
	}

	assert.Equal(t, 1, o.Calls())
	require.NoError(t, o.Reset())
	assert.Equal(t, 0, o.Calls())
}
