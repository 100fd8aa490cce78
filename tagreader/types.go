package tagreader

// Type is the data type code of a directory entry.
type Type uint16

const (
	Byte      Type = 1  // uint8
	ASCII     Type = 2  // []byte with a trailing zero
	Short     Type = 3  // uint16
	Long      Type = 4  // uint32
	Rational  Type = 5  // two uint32s, numerator then denominator
	SByte     Type = 6  // int8
	Undefined Type = 7  // byte
	SShort    Type = 8  // int16
	SLong     Type = 9  // int32
	SRational Type = 10 // two int32s
	Float     Type = 11 // float32
	Double    Type = 12 // float64
	IFD       Type = 13 // uint32 offset to a sub-directory
)

// byte size of each type, indexed by type code
var typeSize = []int{
	0,
	1, 1, 2, 4, 8, // BYTE, ASCII, SHORT, LONG, RATIONAL
	1, 1, 2, 4, 8, // SBYTE, UNDEFINED, SSHORT, SLONG, SRATIONAL
	4, 8, // FLOAT, DOUBLE
	4, // IFD
}

// Size returns the byte size of one value, or 0 for an unknown type.
func (t Type) Size() int {
	if int(t) >= len(typeSize) {
		return 0
	}
	return typeSize[t]
}

func (t Type) isInteger() bool {
	switch t {
	case Byte, Short, Long, Undefined, SByte, SShort, SLong, IFD:
		return true
	}
	return false
}

func (t Type) String() string {
	switch t {
	case Byte:
		return "BYTE"
	case ASCII:
		return "ASCII"
	case Short:
		return "SHORT"
	case Long:
		return "LONG"
	case Rational:
		return "RATIONAL"
	case SByte:
		return "SBYTE"
	case Undefined:
		return "UNDEFINED"
	case SShort:
		return "SSHORT"
	case SLong:
		return "SLONG"
	case SRational:
		return "SRATIONAL"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	case IFD:
		return "IFD"
	}
	return "UNKNOWN"
}
