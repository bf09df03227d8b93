package dashboard

// ChartCapacity is the live chart length.
const ChartCapacity = 30

// Point is one chart sample. Water is 1 when water was detected.
type Point struct {
	Label    string
	Distance float64
	Water    int
}

// ChartWindow is a bounded sliding window of live points, oldest first.
// It is owned by one Session and not safe for concurrent use.
type ChartWindow struct {
	points   []Point
	capacity int
}

// NewChartWindow returns a window holding at most capacity live points.
// capacity <= 0 means ChartCapacity.
func NewChartWindow(capacity int) *ChartWindow {
	if capacity <= 0 {
		capacity = ChartCapacity
	}
	return &ChartWindow{points: make([]Point, 0, capacity), capacity: capacity}
}

// Push appends p, evicting the oldest point once the window is full.
func (w *ChartWindow) Push(p Point) {
	if len(w.points) == w.capacity {
		copy(w.points, w.points[1:])
		w.points = w.points[:len(w.points)-1]
	}
	w.points = append(w.points, p)
}

// Replace swaps the contents for a historical snapshot. Snapshots are not
// bounded by the live capacity.
func (w *ChartWindow) Replace(points []Point) {
	w.points = append(make([]Point, 0, max(len(points), w.capacity)), points...)
}

func (w *ChartWindow) Reset() { w.points = w.points[:0] }

func (w *ChartWindow) Len() int { return len(w.points) }

// Points returns a copy, oldest first.
func (w *ChartWindow) Points() []Point {
	return append([]Point(nil), w.points...)
}

func historicalPoints(h Historical) []Point {
	n := min(len(h.Labels), len(h.Distance), len(h.Water))
	pts := make([]Point, n)
	for i := range n {
		pts[i] = Point{Label: h.Labels[i], Distance: h.Distance[i], Water: h.Water[i]}
	}
	return pts
}
