// Package vector implements the six-dimensional resource vector shared by
// every fairness computation: CPU time, disk bytes read/written, network
// bytes received/transmitted, and memory used.
package vector

import "github.com/nova-compute/fairnessd/pkg/types"

// Sentinel is returned by Div (and by metrics built on top of it) in place
// of a division result whenever the denominator is zero. No component of
// this package ever panics or returns an error for a degenerate ratio.
const Sentinel = -1

// Vector holds the six tracked resource dimensions plus the identifying
// tags that travel with a per-VM sample. Tags are carried for convenience
// only; they are never used in arithmetic and are always taken from the
// left-hand operand of a binary operation.
type Vector struct {
	CPUTime           float64
	DiskBytesRead     float64
	DiskBytesWritten  float64
	NetBytesRx        float64
	NetBytesTx        float64
	MemoryUsed        float64

	ComputeHost  string
	UserID       string
	InstanceName string
}

// New builds a Vector carrying the given tags, all dimensions zeroed.
func New(computeHost, userID, instanceName string) Vector {
	return Vector{ComputeHost: computeHost, UserID: userID, InstanceName: instanceName}
}

func (v Vector) withTagsOf(src Vector) Vector {
	v.ComputeHost = src.ComputeHost
	v.UserID = src.UserID
	v.InstanceName = src.InstanceName
	return v
}

// Add returns v+o elementwise, tagged as v.
func (v Vector) Add(o Vector) Vector {
	return Vector{
		CPUTime:          v.CPUTime + o.CPUTime,
		DiskBytesRead:    v.DiskBytesRead + o.DiskBytesRead,
		DiskBytesWritten: v.DiskBytesWritten + o.DiskBytesWritten,
		NetBytesRx:       v.NetBytesRx + o.NetBytesRx,
		NetBytesTx:       v.NetBytesTx + o.NetBytesTx,
		MemoryUsed:       v.MemoryUsed + o.MemoryUsed,
	}.withTagsOf(v)
}

// Sub returns v-o elementwise, tagged as v.
func (v Vector) Sub(o Vector) Vector {
	return Vector{
		CPUTime:          v.CPUTime - o.CPUTime,
		DiskBytesRead:    v.DiskBytesRead - o.DiskBytesRead,
		DiskBytesWritten: v.DiskBytesWritten - o.DiskBytesWritten,
		NetBytesRx:       v.NetBytesRx - o.NetBytesRx,
		NetBytesTx:       v.NetBytesTx - o.NetBytesTx,
		MemoryUsed:       v.MemoryUsed - o.MemoryUsed,
	}.withTagsOf(v)
}

// MulScalar returns v*s elementwise, tagged as v.
func (v Vector) MulScalar(s float64) Vector {
	return Vector{
		CPUTime:          v.CPUTime * s,
		DiskBytesRead:    v.DiskBytesRead * s,
		DiskBytesWritten: v.DiskBytesWritten * s,
		NetBytesRx:       v.NetBytesRx * s,
		NetBytesTx:       v.NetBytesTx * s,
		MemoryUsed:       v.MemoryUsed * s,
	}.withTagsOf(v)
}

// Mul returns v*o elementwise, tagged as v.
func (v Vector) Mul(o Vector) Vector {
	return Vector{
		CPUTime:          v.CPUTime * o.CPUTime,
		DiskBytesRead:    v.DiskBytesRead * o.DiskBytesRead,
		DiskBytesWritten: v.DiskBytesWritten * o.DiskBytesWritten,
		NetBytesRx:       v.NetBytesRx * o.NetBytesRx,
		NetBytesTx:       v.NetBytesTx * o.NetBytesTx,
		MemoryUsed:       v.MemoryUsed * o.MemoryUsed,
	}.withTagsOf(v)
}

// DivScalar returns v/s elementwise, tagged as v. Every dimension divided
// by a zero s yields Sentinel rather than Inf or NaN.
func (v Vector) DivScalar(s float64) Vector {
	return Vector{
		CPUTime:          safeDivide(v.CPUTime, s),
		DiskBytesRead:    safeDivide(v.DiskBytesRead, s),
		DiskBytesWritten: safeDivide(v.DiskBytesWritten, s),
		NetBytesRx:       safeDivide(v.NetBytesRx, s),
		NetBytesTx:       safeDivide(v.NetBytesTx, s),
		MemoryUsed:       safeDivide(v.MemoryUsed, s),
	}.withTagsOf(v)
}

// Div returns v/o elementwise, tagged as v. Dimensions whose o component
// is zero yield Sentinel.
func (v Vector) Div(o Vector) Vector {
	return Vector{
		CPUTime:          safeDivide(v.CPUTime, o.CPUTime),
		DiskBytesRead:    safeDivide(v.DiskBytesRead, o.DiskBytesRead),
		DiskBytesWritten: safeDivide(v.DiskBytesWritten, o.DiskBytesWritten),
		NetBytesRx:       safeDivide(v.NetBytesRx, o.NetBytesRx),
		NetBytesTx:       safeDivide(v.NetBytesTx, o.NetBytesTx),
		MemoryUsed:       safeDivide(v.MemoryUsed, o.MemoryUsed),
	}.withTagsOf(v)
}

// safeDivide returns n/d, or Sentinel when d is zero. A plain zero-default
// division helper can't tell "no demand" (0) from "undefined ratio"
// (Sentinel); see the Greediness metric's notZero usage, which depends on
// that distinction.
func safeDivide(n, d float64) float64 {
	if d == 0 {
		return Sentinel
	}
	return n / d
}

// IsZero reports whether every dimension of v is exactly zero.
func (v Vector) IsZero() bool {
	return v.CPUTime == 0 && v.DiskBytesRead == 0 && v.DiskBytesWritten == 0 &&
		v.NetBytesRx == 0 && v.NetBytesTx == 0 && v.MemoryUsed == 0
}

// Dimensions returns the six resource values in the fixed order used by
// every metric: cpu, disk-read, disk-write, net-rx, net-tx, memory.
func (v Vector) Dimensions() [6]float64 {
	return [6]float64{v.CPUTime, v.DiskBytesRead, v.DiskBytesWritten, v.NetBytesRx, v.NetBytesTx, v.MemoryUsed}
}

// FromDimensions rebuilds a Vector from the fixed six-element order used
// by Dimensions, preserving no tags (caller re-tags as needed).
func FromDimensions(d [6]float64) Vector {
	return Vector{CPUTime: d[0], DiskBytesRead: d[1], DiskBytesWritten: d[2], NetBytesRx: d[3], NetBytesTx: d[4], MemoryUsed: d[5]}
}

// DiskBytesReadHumanized renders the disk-read dimension via the
// types.Bytes formatter (B/KB/MB/GB/TB, 1024 base).
func (v Vector) DiskBytesReadHumanized() string {
	return types.Bytes(v.DiskBytesRead).Humanized()
}
