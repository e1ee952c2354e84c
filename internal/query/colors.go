package query

import "slices"

// defaultColorThreshold は閾値表にない色の min_color。
const defaultColorThreshold = 0.15

// palette は色フィルタで選択できる色名。
var palette = []string{
	"red", "orange", "yellow", "green", "teal", "blue",
	"purple", "pink", "brown", "black", "gray", "white",
}

// colorThresholds は色名から画像内の最低占有率への対応表。
// ここにない色はdefaultColorThresholdを使う。
var colorThresholds = map[string]float64{
	"red":    0.10,
	"orange": 0.10,
	"yellow": 0.10,
	"purple": 0.08,
	"pink":   0.08,
	"teal":   0.10,
	"black":  0.30,
	"gray":   0.30,
	"white":  0.30,
}

// Palette は選択可能な色名を返す。
func Palette() []string {
	return slices.Clone(palette)
}

// IsKnownColor は色名がパレットに含まれるかを返す。
func IsKnownColor(name string) bool {
	return slices.Contains(palette, name)
}

func colorThreshold(name string) float64 {
	if v, ok := colorThresholds[name]; ok {
		return v
	}
	return defaultColorThreshold
}
