package service

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Ultralytics 默认调色板
var palette = []color.RGBA{
	{0xFF, 0x38, 0x38, 0}, {0xFF, 0x9D, 0x97, 0}, {0xFF, 0x70, 0x1F, 0}, {0xFF, 0xB2, 0x1D, 0},
	{0xCF, 0xD2, 0x31, 0}, {0x48, 0xF9, 0x0A, 0}, {0x92, 0xCC, 0x17, 0}, {0x3D, 0xDB, 0x86, 0},
	{0x1A, 0x93, 0x34, 0}, {0x00, 0xD4, 0xBB, 0}, {0x2C, 0x99, 0xA8, 0}, {0x00, 0xC2, 0xFF, 0},
	{0x34, 0x45, 0x93, 0}, {0x64, 0x73, 0xFF, 0}, {0x00, 0x18, 0xEC, 0}, {0x84, 0x38, 0xFF, 0},
	{0x52, 0x00, 0x85, 0}, {0xCB, 0x38, 0xFF, 0}, {0xFF, 0x95, 0xC8, 0}, {0xFF, 0x37, 0xC7, 0},
}

const labelFont = gocv.FontHersheySimplex

func classColor(id int) color.RGBA {
	if id < 0 {
		id = -id
	}
	return palette[id%len(palette)]
}

// textColor 浅色背景用黑字，深色背景用白字
func textColor(bg color.RGBA) color.RGBA {
	luma := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luma > 160 {
		return color.RGBA{0, 0, 0, 0}
	}
	return color.RGBA{255, 255, 255, 0}
}

// Annotate 在图像副本上绘制检测框与标签，返回 JPEG 字节
func Annotate(img gocv.Mat, predictions []Prediction) ([]byte, error) {
	canvas := img.Clone()
	defer canvas.Close()

	// 线宽随图像尺寸变化
	lineWidth := max(int(math.Round(float64(canvas.Rows()+canvas.Cols())/2*0.003)), 2)
	fontScale := float64(lineWidth) / 3
	fontThickness := max(lineWidth-1, 1)

	for _, p := range predictions {
		boxColor := classColor(p.ClassID)
		rect := image.Rect(
			int(math.Round(p.Box.X1)),
			int(math.Round(p.Box.Y1)),
			int(math.Round(p.Box.X2)),
			int(math.Round(p.Box.Y2)),
		)
		if err := gocv.Rectangle(&canvas, rect, boxColor, lineWidth); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s %.2f", p.Label, p.Score)
		textSize := gocv.GetTextSize(label, labelFont, fontScale, fontThickness)

		// 标签优先放在框上方，空间不足时放进框内
		above := rect.Min.Y-textSize.Y-3 >= 0
		var bg image.Rectangle
		var origin image.Point
		if above {
			bg = image.Rect(rect.Min.X, rect.Min.Y-textSize.Y-3, rect.Min.X+textSize.X, rect.Min.Y)
			origin = image.Pt(rect.Min.X, rect.Min.Y-2)
		} else {
			bg = image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+textSize.X, rect.Min.Y+textSize.Y+3)
			origin = image.Pt(rect.Min.X, rect.Min.Y+textSize.Y+2)
		}

		if err := gocv.Rectangle(&canvas, bg, boxColor, -1); err != nil {
			return nil, fmt.Errorf("failed to draw label background: %w", err)
		}
		if err := gocv.PutText(&canvas, label, origin, labelFont, fontScale, textColor(boxColor), fontThickness); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, canvas)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
