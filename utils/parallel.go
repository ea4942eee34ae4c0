// Package utils contains small helpers shared by the reconstruction packages.
package utils

import (
	"context"
	"image"
	"math"
	"runtime"
	"sync"

	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

type (
	// BeforeParallelGroupWorkFunc executes before any work starts with the calculated group size.
	BeforeParallelGroupWorkFunc func(groupSize int)
	// MemberWorkFunc runs for each work item (member) of a group.
	MemberWorkFunc func(memberNum, workNum int)
	// GroupWorkDoneFunc runs when a single group's work is done; helpful for merge stages.
	GroupWorkDoneFunc func()
	// GroupWorkFunc runs to determine what work members should do, if any.
	GroupWorkFunc func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc)
)

// GroupWorkParallel splits totalSize work items into contiguous groups and runs each group on its
// own goroutine. Groups stop picking up members once ctx is done, in which case the context error
// is returned. A panic inside a group is captured and returned as an error.
func GroupWorkParallel(ctx context.Context, totalSize int, before BeforeParallelGroupWorkFunc, groupWork GroupWorkFunc) error {
	if totalSize <= 0 {
		return nil
	}
	numGroups := ParallelFactor
	if numGroups > totalSize {
		numGroups = totalSize
	}
	groupSize := int(math.Floor(float64(totalSize) / float64(numGroups)))
	extra := totalSize - groupSize*numGroups

	if before != nil {
		before(numGroups)
	}

	var group errgroup.Group
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicError{r}
				}
			}()

			thisGroupSize := groupSize
			thisExtra := 0
			if groupNum == (numGroups - 1) {
				thisExtra = extra
				thisGroupSize += thisExtra
			}
			from := groupSize * groupNum
			to := (groupSize * (groupNum + 1)) + thisExtra
			memberWork, groupWorkDone := groupWork(groupNum, thisGroupSize, from, to)
			if memberWork != nil {
				memberNum := 0
				for workNum := from; workNum < to; workNum++ {
					if ctx.Err() != nil {
						return nil
					}
					memberWork(memberNum, workNum)
					memberNum++
				}
			}
			if groupWorkDone != nil {
				groupWorkDone()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ParallelForEachPixel loops through the image and calls f functions for each [x, y] position.
// The image is divided into N * N blocks, where N is the number of available processor threads. For each block a
// parallel Goroutine is started.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	procs := runtime.GOMAXPROCS(0)
	if procs > size.X {
		procs = max(size.X, 1)
	}
	if procs > size.Y {
		procs = max(size.Y, 1)
	}
	var waitGroup sync.WaitGroup
	waitGroup.Add(procs * procs)
	stepX := size.X / procs
	stepY := size.Y / procs
	for i := 0; i < procs; i++ {
		startX := i * stepX
		endX := size.X
		if i < procs-1 {
			endX = (i + 1) * stepX
		}
		for j := 0; j < procs; j++ {
			startY := j * stepY
			endY := size.Y
			if j < procs-1 {
				endY = (j + 1) * stepY
			}
			sX, eX, sY, eY := startX, endX, startY, endY
			utils.PanicCapturingGo(func() {
				defer waitGroup.Done()
				for y := sY; y < eY; y++ {
					for x := sX; x < eX; x++ {
						f(x, y)
					}
				}
			})
		}
	}
	waitGroup.Wait()
}
