package tagreader

// Tag ids used by the profile parsers.
// https://www.adobe.io/open/standards/TIFF.html, EXIF 2.32, DNG 1.6
const (
	TagNewSubfileType            = 0x00fe
	TagImageWidth                = 0x0100
	TagImageLength               = 0x0101
	TagBitsPerSample             = 0x0102
	TagCompression               = 0x0103
	TagPhotometricInterpretation = 0x0106
	TagMake                      = 0x010f
	TagModel                     = 0x0110
	TagStripOffsets              = 0x0111
	TagOrientation               = 0x0112
	TagSamplesPerPixel           = 0x0115
	TagRowsPerStrip              = 0x0116
	TagStripByteCounts           = 0x0117
	TagPlanarConfiguration       = 0x011c
	TagTileOffsets               = 0x0144
	TagSubIFDs                   = 0x014a
	TagJPEGInterchangeFormat     = 0x0201
	TagCFARepeatPatternDim       = 0x828d
	TagCFAPattern                = 0x828e
	TagExifIFD                   = 0x8769
	TagICCProfile                = 0x8773 // TIFFTAG_ICCPROFILE
	TagGPSIFD                    = 0x8825
	TagDNGVersion                = 0xc612
	TagBlackLevel                = 0xc61a
	TagWhiteLevel                = 0xc61d
)

// Compression values.
const (
	CompressionNone = 1
)

// PhotometricInterpretation values.
const (
	PhotometricMinIsBlack = 1
	PhotometricRGB        = 2
	PhotometricCFA        = 32803
	PhotometricLinearRaw  = 34892
)
