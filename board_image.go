package main

import (
	"fmt"
	"image"
	"image/color"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/state"
	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"
)

const (
	boardWidth  = 320
	boardHeader = 32
	rowHeight   = 36
	lampSize    = 20
	margin      = 10
)

var (
	boardBackground = color.RGBA{24, 24, 24, 255}
	boardText       = color.RGBA{230, 230, 230, 255}
	lampRed         = color.RGBA{220, 30, 30, 255}
	lampGreen       = color.RGBA{30, 200, 60, 255}
)

func lampColor(c state.SignalColor) color.RGBA {
	if c == state.Green {
		return lampGreen
	}
	return lampRed
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.Set(x, y, c)
		}
	}
}

func drawText(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(boardText),
		Face: inconsolata.Bold8x16,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// RenderBoard draws one row per road: a lamp in the road's color, its name
// and the remaining seconds.
func RenderBoard(s state.Snapshot, m Model) *image.RGBA {
	height := boardHeader + protocol.RoadCount*rowHeight + margin
	img := image.NewRGBA(image.Rect(0, 0, boardWidth, height))
	fillRect(img, img.Bounds(), boardBackground)
	drawText(img, margin, 22, "updated "+s.At.Format("15:04:05"))

	for _, id := range protocol.Roads() {
		rs := s.Road(id)
		top := boardHeader + id.Index()*rowHeight
		lamp := image.Rect(margin, top+(rowHeight-lampSize)/2, margin+lampSize, top+(rowHeight+lampSize)/2)
		fillRect(img, lamp, lampColor(rs.Color))
		if id == s.Active {
			// outline the active road
			fillRect(img, image.Rect(lamp.Min.X-2, lamp.Min.Y-2, lamp.Max.X+2, lamp.Min.Y), boardText)
			fillRect(img, image.Rect(lamp.Min.X-2, lamp.Max.Y, lamp.Max.X+2, lamp.Max.Y+2), boardText)
		}
		label := fmt.Sprintf("%-20s %s", m.Name(id), rs.Color)
		if rs.Countdown > 0 {
			label += fmt.Sprintf(" %ds", rs.Countdown)
		}
		drawText(img, margin+lampSize+margin, top+rowHeight/2+5, label)
	}
	return img
}
