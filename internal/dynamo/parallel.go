package dynamo

// Partition returns the half-open range [start, end) of n items owned by
// rank out of size participants. Ranges are contiguous, disjoint and cover
// [0, n); the first n%size ranks get one extra item.
func Partition(n, size, rank int) (start, end int) {
	if size <= 1 {
		return 0, n
	}
	if rank < 0 || rank >= size {
		return 0, 0
	}
	chunk := n / size
	extra := n % size

	start = rank*chunk + min(rank, extra)
	end = start + chunk
	if rank < extra {
		end++
	}
	return start, end
}
