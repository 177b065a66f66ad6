package l1detect

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Source yields detector frames in stream order. Next returns io.EOF
// once the stream is exhausted.
type Source interface {
	Next() (Frame, error)
}

// maxLineBytes bounds a single JSONL record; a crowded frame with full
// skeletons is well under this.
const maxLineBytes = 8 * 1024 * 1024

// wireDetection is the on-disk shape of a detection:
//
//	{"bbox":[x1,y1,x2,y2],"confidence":0.9,"keypoints":[[x,y,c],...],"base_track_id":4}
type wireDetection struct {
	BBox        [4]float64   `json:"bbox"`
	Confidence  float64      `json:"confidence"`
	Keypoints   [][3]float64 `json:"keypoints,omitempty"`
	BaseTrackID int64        `json:"base_track_id,omitempty"`
}

// wireFrame is one JSONL line. Time is stream seconds.
type wireFrame struct {
	Frame      int64           `json:"frame"`
	Time       float64         `json:"time"`
	Detections []wireDetection `json:"detections"`
}

// JSONLSource replays detector output recorded one frame per line.
type JSONLSource struct {
	scanner   *bufio.Scanner
	closer    io.Closer
	line      int
	minConf   float64
	hasFilter bool
}

// NewJSONLSource reads frames from r. Blank lines are skipped.
func NewJSONLSource(r io.Reader) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	s := &JSONLSource{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenJSONLSource opens a JSONL detections file.
func OpenJSONLSource(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections %s: %w", path, err)
	}
	return NewJSONLSource(f), nil
}

// WithConfidenceThreshold drops detections below threshold as frames are
// read, acting as the upstream confidence filter.
func (s *JSONLSource) WithConfidenceThreshold(threshold float64) *JSONLSource {
	s.minConf = threshold
	s.hasFilter = true
	return s
}

// Next decodes the next frame.
func (s *JSONLSource) Next() (Frame, error) {
	for s.scanner.Scan() {
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var wf wireFrame
		if err := json.Unmarshal(raw, &wf); err != nil {
			return Frame{}, fmt.Errorf("line %d: decode frame: %w", s.line, err)
		}
		frame := Frame{
			Index:      wf.Frame,
			Timestamp:  SecondsToDuration(wf.Time),
			Detections: make([]RawDetection, 0, len(wf.Detections)),
		}
		for _, wd := range wf.Detections {
			frame.Detections = append(frame.Detections, wd.toRawDetection())
		}
		if s.hasFilter {
			frame.Detections = FilterByConfidence(frame.Detections, s.minConf)
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("line %d: read: %w", s.line+1, err)
	}
	return Frame{}, io.EOF
}

// Close releases the underlying reader if it is closable.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (wd wireDetection) toRawDetection() RawDetection {
	d := RawDetection{
		BBox:        BBox{X1: wd.BBox[0], Y1: wd.BBox[1], X2: wd.BBox[2], Y2: wd.BBox[3]},
		Confidence:  wd.Confidence,
		BaseTrackID: wd.BaseTrackID,
	}
	if len(wd.Keypoints) > 0 {
		d.Keypoints = make(Keypoints, len(wd.Keypoints))
		for i, kp := range wd.Keypoints {
			d.Keypoints[i] = Keypoint{X: kp[0], Y: kp[1], Confidence: kp[2]}
		}
	}
	return d
}

// SliceSource serves pre-built frames, mostly for tests and replays held
// in memory.
type SliceSource struct {
	frames []Frame
	pos    int
}

// NewSliceSource returns a Source over frames.
func NewSliceSource(frames []Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame or io.EOF.
func (s *SliceSource) Next() (Frame, error) {
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}
