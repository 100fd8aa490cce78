package colorspace

import "math"

// Matrix3 is a 3x3 matrix stored row-major.
type Matrix3 [9]float64

// Vector3 is a column vector (RGB or XYZ).
type Vector3 [3]float64

// Identity3 returns the identity matrix.
func Identity3() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Diagonal returns the matrix with v on its diagonal.
func Diagonal(v Vector3) Matrix3 {
	return Matrix3{v[0], 0, 0, 0, v[1], 0, 0, 0, v[2]}
}

// Multiply returns m × other.
func (m Matrix3) Multiply(other Matrix3) Matrix3 {
	var result Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += m[i*3+k] * other[k*3+j]
			}
			result[i*3+j] = sum
		}
	}
	return result
}

// Apply returns m × v.
func (m Matrix3) Apply(v Vector3) Vector3 {
	return Vector3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// Inverse returns the inverse of m; ok is false for a singular matrix.
func (m Matrix3) Inverse() (inv Matrix3, ok bool) {
	det := m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
	if math.Abs(det) < 1e-12 {
		return
	}
	invDet := 1.0 / det

	inv[0] = (m[4]*m[8] - m[5]*m[7]) * invDet
	inv[1] = (m[2]*m[7] - m[1]*m[8]) * invDet
	inv[2] = (m[1]*m[5] - m[2]*m[4]) * invDet
	inv[3] = (m[5]*m[6] - m[3]*m[8]) * invDet
	inv[4] = (m[0]*m[8] - m[2]*m[6]) * invDet
	inv[5] = (m[2]*m[3] - m[0]*m[5]) * invDet
	inv[6] = (m[3]*m[7] - m[4]*m[6]) * invDet
	inv[7] = (m[1]*m[6] - m[0]*m[7]) * invDet
	inv[8] = (m[0]*m[4] - m[1]*m[3]) * invDet
	return inv, true
}

// Column returns column i of m.
func (m Matrix3) Column(i int) Vector3 {
	return Vector3{m[i], m[3+i], m[6+i]}
}

// Bradford cone response matrix.
var bradford = Matrix3{
	0.8951, 0.2664, -0.1614,
	-0.7502, 1.7135, 0.0367,
	0.0389, -0.0685, 1.0296,
}

var bradfordInverse, _ = bradford.Inverse()

// ChromaticAdaptation returns the Bradford transform taking XYZ values
// relative to white point from into XYZ values relative to to.
func ChromaticAdaptation(from, to Vector3) Matrix3 {
	s := bradford.Apply(from)
	d := bradford.Apply(to)
	scale := Diagonal(Vector3{d[0] / s[0], d[1] / s[1], d[2] / s[2]})
	return bradfordInverse.Multiply(scale).Multiply(bradford)
}
