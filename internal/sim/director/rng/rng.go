// Package rng provides the seeded randomness used by the director. Nothing in
// the engine reads ambient global randomness; every draw goes through a Source
// built from an explicit seed.
package rng

// Source yields uniformly distributed values in [0,1).
type Source interface {
	Float64() float64
}

// Factory builds a Source for a seed. Callers inject their own to pin or
// script draws in tests.
type Factory func(seed int64) Source

// SplitMix is a splitmix64 generator. Its output depends only on the seed, so
// draws are identical across processes and platforms.
type SplitMix struct {
	state uint64
}

func NewSplitMix(seed int64) Source {
	return &SplitMix{state: uint64(seed)}
}

func (s *SplitMix) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	return finalize(s.state)
}

func (s *SplitMix) Float64() float64 {
	// 53 high bits -> [0,1).
	return float64(s.Uint64()>>11) / (1 << 53)
}

func finalize(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
