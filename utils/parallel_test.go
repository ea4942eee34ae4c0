package utils

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestGroupWorkParallel(t *testing.T) {
	for _, totalSize := range []int{1, 7, 100, 1001} {
		seen := make([]int32, totalSize)
		var groups int
		err := GroupWorkParallel(
			context.Background(),
			totalSize,
			func(groupSize int) { groups = groupSize },
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					atomic.AddInt32(&seen[workNum], 1)
				}, nil
			},
		)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, groups, test.ShouldBeGreaterThan, 0)
		test.That(t, groups, test.ShouldBeLessThanOrEqualTo, totalSize)
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	err := GroupWorkParallel(ctx, 50, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) { atomic.AddInt32(&ran, 1) }, nil
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, ran, test.ShouldEqual, 0)
}

func TestGroupWorkParallelPanic(t *testing.T) {
	prev := ParallelFactor
	ParallelFactor = 4
	defer func() { ParallelFactor = prev }()

	var done int32
	start := time.Now()
	err := GroupWorkParallel(context.Background(), 4, nil, func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
		return func(memberNum, workNum int) {
			if workNum == 0 {
				panic("boom")
			}
		}, func() { atomic.AddInt32(&done, 1) }
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "boom")
	// the other groups finish and the error is reported without delay
	test.That(t, atomic.LoadInt32(&done), test.ShouldEqual, 3)
	test.That(t, time.Since(start), test.ShouldBeLessThan, time.Second)
}

func TestParallelForEachPixel(t *testing.T) {
	size := image.Point{13, 5}
	var mu sync.Mutex
	visited := map[image.Point]int{}
	ParallelForEachPixel(size, func(x, y int) {
		mu.Lock()
		visited[image.Point{x, y}]++
		mu.Unlock()
	})
	test.That(t, len(visited), test.ShouldEqual, 13*5)
	for _, n := range visited {
		test.That(t, n, test.ShouldEqual, 1)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	err := WriteFileAtomic(path, func(f *os.File) error {
		_, err := f.WriteString("hello")
		return err
	})
	test.That(t, err, test.ShouldBeNil)
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "hello")
	test.That(t, FileExists(path), test.ShouldBeTrue)
	test.That(t, DirExists(filepath.Dir(path)), test.ShouldBeTrue)

	entries, err := os.ReadDir(filepath.Dir(path))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 1)
}
