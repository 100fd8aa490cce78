//
// read embedded ICC profile from a TIFF file
//
// TIFF spec
// https://www.adobe.io/open/standards/TIFF.html
//

package imagecore

import (
	"io"

	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/tagreader"
)

// ExtractICCFromTIFF walks the main directory chain of a TIFF-family stream
// (TIFF, DNG, NEF, ...) and returns the data of the first ICC profile tag.
// If there is no ICC profile then nil data and no error is returned.
func ExtractICCFromTIFF(in io.ReadSeeker) (iccProfile []byte, err error) {
	r, err := tagreader.New(in)
	if err != nil {
		return
	}
	for {
		var ok bool
		ok, err = r.Read()
		if err != nil {
			// a broken directory does not hide a tag in the others
			logging.Default().Debug("tiff: skipping broken directory", logging.Error("err", err))
			continue
		}
		if !ok {
			return nil, nil
		}
		if r.EntryID() == tagreader.TagICCProfile {
			return r.EntryData()
		}
	}
}
