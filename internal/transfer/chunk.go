package transfer

import "math"

// TotalChunks is the number of binary frames a file of size bytes needs.
func TotalChunks(size int64, chunkSize int) int {
	if chunkSize <= 0 || size <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// ChunkLen is the length of the slice starting at offset, clamped so the
// slices of a file add up to exactly total.
func ChunkLen(offset, total int64, chunkSize int) int {
	remaining := total - offset
	if remaining <= 0 {
		return 0
	}
	if remaining < int64(chunkSize) {
		return int(remaining)
	}
	return chunkSize
}

// Percent is done/total*100 rounded to one decimal place. An empty file is
// complete by definition.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}
