package vision

import (
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

// Box is a face bounding box in source pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float32
}

func (b Box) Area() float32 {
	return max(0, b.X2-b.X1) * max(0, b.Y2-b.Y1)
}

// Detection is one face found by the detector.
type Detection struct {
	Box   Box
	Score float32
}

const (
	detInputSize   = 640
	anchorsPerCell = 2
	nmsIoU         = 0.4
)

// RetinaFace det_10g output heads, one per stride. Outputs carry no batch
// dimension: N = (640/stride)^2 * 2 anchors.
var detHeads = []struct {
	stride                int
	score, bbox, landmark string
}{
	{8, "448", "451", "454"},
	{16, "471", "474", "477"},
	{32, "494", "497", "500"},
}

// Detector runs RetinaFace. Not safe for concurrent use.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	tensors   []*ort.Tensor[float32]
	threshold float32
}

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	d := &Detector{threshold: threshold}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	d.input = input
	d.tensors = append(d.tensors, input)

	var names []string
	var outputs []ort.Value
	for _, h := range detHeads {
		n := int64((detInputSize / h.stride) * (detInputSize / h.stride) * anchorsPerCell)
		score, err := d.newTensor(ort.NewShape(n, 1))
		if err != nil {
			return nil, err
		}
		box, err := d.newTensor(ort.NewShape(n, 4))
		if err != nil {
			return nil, err
		}
		// Landmarks are produced by the graph but unused here.
		lm, err := d.newTensor(ort.NewShape(n, 10))
		if err != nil {
			return nil, err
		}
		d.scores = append(d.scores, score)
		d.boxes = append(d.boxes, box)
		names = append(names, h.score, h.bbox, h.landmark)
		outputs = append(outputs, score, box, lm)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{input}, outputs, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

func (d *Detector) newTensor(shape ort.Shape) (*ort.Tensor[float32], error) {
	t, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create output tensor %v: %w", shape, err)
	}
	d.tensors = append(d.tensors, t)
	return t, nil
}

// Detect finds faces in a CHW-normalized 640x640 input. Boxes are scaled
// back to a srcW x srcH image.
func (d *Detector) Detect(input []float32, srcW, srcH int) ([]Detection, error) {
	copy(d.input.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	sx := float32(srcW) / detInputSize
	sy := float32(srcH) / detInputSize

	var found []Detection
	for hi, h := range detHeads {
		scores := d.scores[hi].GetData()
		boxes := d.boxes[hi].GetData()
		cells := detInputSize / h.stride
		st := float32(h.stride)

		for i, score := range scores {
			if score < d.threshold {
				continue
			}
			cell := i / anchorsPerCell
			ax := float32(cell%cells) * st
			ay := float32(cell/cells) * st
			b := boxes[i*4 : i*4+4]
			found = append(found, Detection{
				Box: Box{
					X1: clamp((ax-b[0]*st)*sx, 0, float32(srcW)),
					Y1: clamp((ay-b[1]*st)*sy, 0, float32(srcH)),
					X2: clamp((ax+b[2]*st)*sx, 0, float32(srcW)),
					Y2: clamp((ay+b[3]*st)*sy, 0, float32(srcH)),
				},
				Score: score,
			})
		}
	}
	return suppress(found, nmsIoU), nil
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	for _, t := range d.tensors {
		t.Destroy()
	}
	d.tensors = nil
}

// suppress keeps the highest scoring box of every overlapping group.
func suppress(dets []Detection, threshold float32) []Detection {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	var kept []Detection
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.Box, k.Box) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b Box) float32 {
	inter := Box{
		X1: max(a.X1, b.X1), Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2), Y2: min(a.Y2, b.Y2),
	}.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
