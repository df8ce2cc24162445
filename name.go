package superloop

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

var instanceIndexes sync.Map // type name -> *int64

// nextIndex returns the next process-wide instance index for kind,
// starting at 0 for the first instance of each kind.
func nextIndex(kind string) int64 {
	v, _ := instanceIndexes.LoadOrStore(kind, new(int64))
	return atomic.AddInt64(v.(*int64), 1) - 1
}

// loopName builds the display name for a loop wrapping c: the concrete type
// name joined with a per-type instance index, e.g. "FeedCycler_0".
func loopName(c Cycler) string {
	t := reflect.TypeOf(c)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	kind := t.Name()
	if kind == "" {
		kind = "Loop"
	}
	return fmt.Sprintf("%s_%d", kind, nextIndex(kind))
}
