// Package orientation maps raw EXIF orientation codes to the rotation and
// mirror needed to display an image upright.
package orientation

import "github.com/Skryldev/image-responsive/core"

var table = [...]struct {
	angle int
	flip  core.FlipAxis
}{
	0: {0, core.FlipNone},
	1: {0, core.FlipNone},
	2: {0, core.FlipHorizontal},
	3: {180, core.FlipNone},
	4: {0, core.FlipVertical},
	5: {90, core.FlipHorizontal},
	6: {270, core.FlipNone},
	7: {270, core.FlipHorizontal},
	8: {90, core.FlipNone},
}

// Resolve returns the correction for code. Codes outside 0-8 are treated as
// 0. It never fails.
func Resolve(code int) core.OrientationInfo {
	if code < 0 || code >= len(table) {
		code = 0
	}
	e := table[code]
	return core.OrientationInfo{RawCode: code, Angle: e.angle, Flip: e.flip}
}
