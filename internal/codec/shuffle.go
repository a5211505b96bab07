package codec

// shuffle regroups the bytes of src so that byte 0 of every element comes
// first, then byte 1, and so on. Trailing bytes that do not form a whole
// element are copied unchanged, matching blosc's byte-shuffle filter.
func shuffle(typesize int, src, dst []byte) {
	n := len(src) / typesize
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			dst[j*n+i] = src[i*typesize+j]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}

// unshuffle reverses shuffle.
func unshuffle(typesize int, src, dst []byte) {
	n := len(src) / typesize
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			dst[i*typesize+j] = src[j*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}
