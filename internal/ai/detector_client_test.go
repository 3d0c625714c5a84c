package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"

	"github.com/kdimtricp/signassist/internal/models"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string]models.SignInfo

func (m mapLookup) GetByCode(_ context.Context, code string) (models.SignInfo, error) {
	if info, ok := m[code]; ok {
		return info, nil
	}
	return models.SignInfo{}, errors.New("not found")
}

func newDetectorServer(t *testing.T, detections []Detection) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		require.Equal(t, []byte("jpeg-bytes"), raw)
		require.Equal(t, "image/jpeg", req.MIMEType)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(predictResponse{Detections: detections})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectorIdentify(t *testing.T) {
	srv := newDetectorServer(t, []Detection{
		{Code: "P.102", Name: "P.102", Confidence: 0.91, BBox: [4]float64{0, 0, 10, 10}},
		{Code: "P.102", Name: "P.102", Confidence: 0.80, BBox: [4]float64{1, 1, 10, 10}},
		{Code: "W.207a", Name: "Giao nhau", Meaning: "Nơi giao nhau", Confidence: 0.70, BBox: [4]float64{30, 30, 40, 40}},
		{Code: "R.302a", Confidence: 0.35, BBox: [4]float64{60, 60, 70, 70}},
		{ClassID: 7, Confidence: 0.6, BBox: [4]float64{80, 80, 90, 90}},
	})

	lookup := mapLookup{"P.102": {Code: "P.102", Name: "Cấm đi ngược chiều", Meaning: "Cấm các loại xe đi vào"}}
	client := NewDetectorClient(srv.URL+"/", lookup, DetectorOptions{MinConfidence: 0.35})

	signs, err := client.Identify(context.Background(), []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, []models.TrafficSign{
		{Name: "Cấm đi ngược chiều", Meaning: "Cấm các loại xe đi vào"},
		{Name: "Giao nhau", Meaning: "Nơi giao nhau"},
		{Name: "class_7", Meaning: detectorFallbackMeaning},
	}, signs)

	require.NoError(t, client.Health(context.Background()))
}

func TestDetectorIdentifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Model not loaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewDetectorClient(srv.URL, nil, DetectorOptions{})
	_, err := client.Identify(context.Background(), []byte("x"), "image/png")
	require.ErrorContains(t, err, "status 503")
	require.Error(t, client.Health(context.Background()))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	require.Equal(t, "ngắn", truncate("ngắn", 20))

	// "Đường" starts with a two-byte rune; cutting at 1 must not split it.
	require.Equal(t, "...", truncate("Đường cấm", 1))

	for n := 0; n < len("Đường hai chiều"); n++ {
		out := truncate("Đường hai chiều", n)
		require.True(t, utf8.ValidString(out), "n=%d: %q", n, out)
		require.LessOrEqual(t, len(out), n+len("..."))
	}
}
