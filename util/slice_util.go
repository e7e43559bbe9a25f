package util

import (
	"cmp"
	"sort"
)

type Integer interface {
	~int8 | ~int16 | ~int32 | ~int | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint | ~uint64
}

// Distinct return the unique values of vs in ascending order
func Distinct[T cmp.Ordered](vs []T) (res []T) {
	m := make(map[T]struct{}, len(vs))
	for _, v := range vs {
		if _, ok := m[v]; ok {
			continue
		}
		m[v] = struct{}{}
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// SortedKeys return keys of m in ascending order
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func CastIntegers[F Integer, T Integer](from []F) []T {
	res := make([]T, len(from))
	for i, e := range from {
		res[i] = T(e)
	}
	return res
}

func MaxInt[T Integer](a, b T) T {
	if a > b {
		return a
	}
	return b
}
