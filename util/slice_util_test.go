package util

import (
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestSliceUtil(t *testing.T) {
	convey.Convey("distinct keep ascending unique values", t, func() {
		convey.So(Distinct([]int{5, 1, 5, 3, 1}), convey.ShouldResemble, []int{1, 3, 5})
		convey.So(Distinct([]string{}), convey.ShouldBeNil)
	})

	convey.Convey("sorted keys", t, func() {
		keys := SortedKeys(map[string]int{"cache2": 1, "a": 2, "b": 0})
		convey.So(keys, convey.ShouldResemble, []string{"a", "b", "cache2"})
	})

	convey.Convey("cast", t, func() {
		convey.So(CastIntegers[int, uint64]([]int{1, 2}), convey.ShouldResemble, []uint64{1, 2})
		convey.So(MaxInt(uint32(3), uint32(9)), convey.ShouldEqual, 9)
	})
}
