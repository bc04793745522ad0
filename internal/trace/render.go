package trace

import (
	"fmt"
	"sort"

	"github.com/fogleman/gg"
)

// ===== Timeline rendering =====

const (
	laneHeight   = 28.0
	lanePadding  = 6.0
	marginLeft   = 110.0
	marginTop    = 40.0
	marginRight  = 20.0
	marginBottom = 30.0
	plotWidth    = 900.0
)

// lanePalette cycles across task lanes.
var lanePalette = [][3]float64{
	{0.22, 0.49, 0.72},
	{0.89, 0.47, 0.20},
	{0.30, 0.69, 0.29},
	{0.84, 0.28, 0.29},
	{0.58, 0.40, 0.74},
	{0.55, 0.34, 0.29},
}

// RenderPNG draws the samples as a task timeline and writes it to path.
// Each task gets a horizontal lane; filled segments show when it held the
// processor. Steps spent inside an interrupt handler are drawn darker.
func RenderPNG(path string, samples []Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("trace: no samples to render")
	}

	lanes := laneOrder(samples)
	laneOf := make(map[uint32]int, len(lanes))
	for i, id := range lanes {
		laneOf[id] = i
	}

	height := marginTop + float64(len(lanes))*(laneHeight+lanePadding) + marginBottom
	width := marginLeft + plotWidth + marginRight
	dc := gg.NewContext(int(width), int(height))
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	firstStep := samples[0].Step
	span := samples[len(samples)-1].Step - firstStep + 1
	xOf := func(step uint64) float64 {
		return marginLeft + float64(step-firstStep)/float64(span)*plotWidth
	}
	yOf := func(lane int) float64 {
		return marginTop + float64(lane)*(laneHeight+lanePadding)
	}

	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawStringAnchored("task activity over steps", marginLeft, marginTop/2, 0, 0.5)

	for i, id := range lanes {
		name := nameOf(samples, id)
		dc.SetRGB(0.25, 0.25, 0.25)
		dc.DrawStringAnchored(name, marginLeft-8, yOf(i)+laneHeight/2, 1, 0.5)
		dc.SetRGB(0.92, 0.92, 0.92)
		dc.DrawRectangle(marginLeft, yOf(i), plotWidth, laneHeight)
		dc.Fill()
	}

	// Merge consecutive samples of the same task into one segment.
	segStart := samples[0].Step
	segTask := samples[0].TaskID
	segISR := samples[0].InterruptNesting > 0
	flush := func(endStep uint64) {
		lane := laneOf[segTask]
		c := lanePalette[lane%len(lanePalette)]
		if segISR {
			dc.SetRGB(c[0]*0.5, c[1]*0.5, c[2]*0.5)
		} else {
			dc.SetRGB(c[0], c[1], c[2])
		}
		x0 := xOf(segStart)
		x1 := xOf(endStep + 1)
		dc.DrawRectangle(x0, yOf(lane), x1-x0, laneHeight)
		dc.Fill()
	}
	for _, s := range samples[1:] {
		isr := s.InterruptNesting > 0
		if s.TaskID != segTask || isr != segISR {
			flush(s.Step - 1)
			segStart, segTask, segISR = s.Step, s.TaskID, isr
		}
	}
	flush(samples[len(samples)-1].Step)

	// Tick boundaries as thin vertical rules.
	dc.SetRGB(0.7, 0.7, 0.7)
	dc.SetLineWidth(1)
	prevTick := samples[0].Tick
	for _, s := range samples[1:] {
		if s.Tick != prevTick {
			x := xOf(s.Step)
			dc.DrawLine(x, marginTop, x, height-marginBottom)
			dc.Stroke()
			prevTick = s.Tick
		}
	}

	dc.SetRGB(0.25, 0.25, 0.25)
	label := fmt.Sprintf("steps %d..%d, ticks %d..%d",
		samples[0].Step, samples[len(samples)-1].Step,
		samples[0].Tick, samples[len(samples)-1].Tick)
	dc.DrawStringAnchored(label, marginLeft, height-marginBottom/2, 0, 0.5)

	return dc.SavePNG(path)
}

func laneOrder(samples []Sample) []uint32 {
	seen := make(map[uint32]bool)
	var ids []uint32
	for _, s := range samples {
		if !seen[s.TaskID] {
			seen[s.TaskID] = true
			ids = append(ids, s.TaskID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func nameOf(samples []Sample, id uint32) string {
	for _, s := range samples {
		if s.TaskID == id && s.TaskName != "" {
			return s.TaskName
		}
	}
	return fmt.Sprintf("task-%d", id)
}
