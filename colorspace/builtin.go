package colorspace

import "sync"

var (
	sRGB = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("sRGB",
			[3]Chromaticity{{0.64, 0.33}, {0.30, 0.60}, {0.15, 0.06}}, D65, SRGBTransfer()))
	})
	linearSRGB = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("Linear sRGB",
			[3]Chromaticity{{0.64, 0.33}, {0.30, 0.60}, {0.15, 0.06}}, D65, Linear()))
	})
	adobeRGB = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("Adobe RGB (1998)",
			[3]Chromaticity{{0.64, 0.33}, {0.21, 0.71}, {0.15, 0.06}}, D65, Gamma(563.0/256)))
	})
	displayP3 = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("Display P3",
			[3]Chromaticity{{0.680, 0.320}, {0.265, 0.690}, {0.150, 0.060}}, D65, SRGBTransfer()))
	})
	proPhoto = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("ProPhoto RGB",
			[3]Chromaticity{{0.7347, 0.2653}, {0.1596, 0.8404}, {0.0366, 0.0001}}, D50, ROMMTransfer()))
	})
	rec2020 = sync.OnceValue(func() *ColorSpace {
		return mustSpace(BuildWorkingSpace("Rec. 2020",
			[3]Chromaticity{{0.708, 0.292}, {0.170, 0.797}, {0.131, 0.046}}, D65, Rec709Transfer()))
	})
)

func SRGB() *ColorSpace        { return sRGB() }
func LinearSRGB() *ColorSpace  { return linearSRGB() }
func AdobeRGB() *ColorSpace    { return adobeRGB() }
func DisplayP3() *ColorSpace   { return displayP3() }
func ProPhotoRGB() *ColorSpace { return proPhoto() }
func Rec2020() *ColorSpace     { return rec2020() }

// Builtins lists the predefined working spaces, sRGB first.
func Builtins() []*ColorSpace {
	return []*ColorSpace{SRGB(), LinearSRGB(), AdobeRGB(), DisplayP3(), ProPhotoRGB(), Rec2020()}
}
