// Package testutil provides shared test fixtures: synthetic detections,
// detector replay files and loopback HTTP requests for the admin routes.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
)

// PersonWidth and PersonHeight are the size of synthetic person boxes.
const (
	PersonWidth  = 40.0
	PersonHeight = 100.0
)

// Person returns a confident detection whose box is centred on (cx, cy).
func Person(cx, cy float64) l1detect.RawDetection {
	return l1detect.RawDetection{
		BBox: l1detect.BBox{
			X1: cx - PersonWidth/2, Y1: cy - PersonHeight/2,
			X2: cx + PersonWidth/2, Y2: cy + PersonHeight/2,
		},
		Confidence: 0.9,
	}
}

type jsonlDetection struct {
	BBox        [4]float64   `json:"bbox"`
	Confidence  float64      `json:"confidence"`
	Keypoints   [][3]float64 `json:"keypoints,omitempty"`
	BaseTrackID int64        `json:"base_track_id,omitempty"`
}

type jsonlFrame struct {
	Frame      int64            `json:"frame"`
	Time       float64          `json:"time"`
	Detections []jsonlDetection `json:"detections"`
}

// WriteJSONL writes frames as a detector replay file under dir and
// returns its path.
func WriteJSONL(t testing.TB, dir, name string, frames []l1detect.Frame) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, fr := range frames {
		line := jsonlFrame{Frame: fr.Index, Time: fr.Timestamp.Seconds(), Detections: []jsonlDetection{}}
		for _, d := range fr.Detections {
			jd := jsonlDetection{
				BBox:        [4]float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
				Confidence:  d.Confidence,
				BaseTrackID: d.BaseTrackID,
			}
			for _, k := range d.Keypoints {
				jd.Keypoints = append(jd.Keypoints, [3]float64{k.X, k.Y, k.Confidence})
			}
			line.Detections = append(line.Detections, jd)
		}
		if err := enc.Encode(line); err != nil {
			t.Fatalf("encode frame %d: %v", fr.Index, err)
		}
	}
	return path
}

// WriteFile writes data under dir and returns its path.
func WriteFile(t testing.TB, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// LocalRequest creates a test request from a loopback address, which the
// /debug/ pages require.
func LocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:54321"
	return req
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
