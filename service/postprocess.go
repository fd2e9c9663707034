package service

import (
	"image"
	"math"

	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"gocv.io/x/gocv"
)

// 按类别平移边界框，使 NMS 只在同类目标之间抑制
const classOffset = 7680

type candidate struct {
	classID int
	score   float32
	box     model.BBox
}

// decodeYOLOv8 解析 [1, 4+nc, anchors] 输出：
// 每个 anchor 取得分最高的类别，保留得分大于 conf 的框，并换算回原图坐标
func decodeYOLOv8(data []float32, numAttrs, numAnchors int, conf, scale float32, imgW, imgH int) []candidate {
	if numAttrs < 5 || len(data) < numAttrs*numAnchors {
		return nil
	}

	at := func(attr, anchor int) float32 {
		return data[attr*numAnchors+anchor]
	}

	var out []candidate
	for a := 0; a < numAnchors; a++ {
		bestClass := -1
		bestScore := float32(0)
		for attr := 4; attr < numAttrs; attr++ {
			if s := at(attr, a); bestClass < 0 || s > bestScore {
				bestClass = attr - 4
				bestScore = s
			}
		}
		if !(bestScore > conf) {
			continue
		}

		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		box := model.BBox{
			X1: clip(float64((cx-w/2)*scale), float64(imgW)),
			Y1: clip(float64((cy-h/2)*scale), float64(imgH)),
			X2: clip(float64((cx+w/2)*scale), float64(imgW)),
			Y2: clip(float64((cy+h/2)*scale), float64(imgH)),
		}
		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}

		out = append(out, candidate{classID: bestClass, score: bestScore, box: box})
	}
	return out
}

// nonMaxSuppression 按类别执行 NMS，结果按得分降序，最多 maxDet 个
func nonMaxSuppression(cands []candidate, conf, iou float32, maxDet int) []candidate {
	if len(cands) == 0 {
		return nil
	}

	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		off := c.classID * classOffset
		rects[i] = image.Rect(
			int(math.Round(c.box.X1))+off,
			int(math.Round(c.box.Y1))+off,
			int(math.Round(c.box.X2))+off,
			int(math.Round(c.box.Y2))+off,
		)
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(rects, scores, conf, iou)
	if maxDet > 0 && len(indices) > maxDet {
		indices = indices[:maxDet]
	}

	kept := make([]candidate, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, cands[idx])
	}
	return kept
}

func clip(v, upper float64) float64 {
	return math.Max(0, math.Min(v, upper))
}
