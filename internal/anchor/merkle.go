package anchor

import "crypto/sha256"

// merkleRoot computes a Merkle root over a batch's (seq, vdf_output) pairs,
// per spec.md §4.5. No third-party Merkle library appears anywhere in the
// example pack's dependency surface, so this stays a small pure function on
// crypto/sha256 rather than adopting an unrelated ecosystem package for a
// dozen lines of tree-folding.
func merkleRoot(links []LinkRef) []byte {
	if len(links) == 0 {
		sum := sha256.Sum256(nil)
		return sum[:]
	}

	level := make([][]byte, len(links))
	for i, l := range links {
		level[i] = leafHash(l)
	}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, pairHash(level[i], level[i]))
			} else {
				next = append(next, pairHash(level[i], level[i+1]))
			}
		}
		level = next
	}
	return level[0]
}

func leafHash(l LinkRef) []byte {
	buf := make([]byte, 0, 8+len(l.VDFOutput))
	buf = appendSeq(buf, l.Seq)
	buf = append(buf, l.VDFOutput...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func pairHash(a, b []byte) []byte {
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func appendSeq(buf []byte, seq int64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(seq)
		seq >>= 8
	}
	return append(buf, tmp[:]...)
}
