// Package util
//
// This file provides a priority queue with key-based access used for compaction.
//
// The implementation combines a binary heap with a hash map to provide both
// efficient priority-based operations and key-based access. The maple engine
// uses it to track tombstones of removed documents ordered by the update
// sequence at which they were removed, so the oldest tombstones can be
// reclaimed first while a re-created document can still be looked up by key.
//
// Time Complexity:
//   - O(log n) for AddItem, RemoveByKey and PopMin
//   - O(1) for Peek, Contains and GetByKey
//
// Note: This implementation is not thread-safe. For concurrent use,
// external synchronization must be applied.
//
// Example usage:
//
//	tombstones := NewMapHeap[string]()
//	tombstones.AddItem("user/1", 17)
//	tombstones.AddItem("user/2", 12)
//
//	for {
//	    item, ok := tombstones.Peek()
//	    if !ok || item.Priority > horizon {
//	        break
//	    }
//	    tombstones.PopMin()
//	}
package util

import (
	"container/heap"
	"fmt"
)

// HeapItem is an entry of a MapHeap
type HeapItem[K comparable] struct {
	Key      K      // Unique identifier for the item
	Priority uint64 // Priority used for ordering in the heap (lowest first)
	index    int    // Index in the heap, maintained by the heap package
}

func (i *HeapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap over uint64 priorities with O(1) access by key
type MapHeap[K comparable] struct {
	h heapSlice[K]
}

// heapSlice implements heap.Interface, it is kept unexported so the heap
// can only be modified through the key aware methods of MapHeap
type heapSlice[K comparable] struct {
	items    []*HeapItem[K]
	itemsMap map[K]*HeapItem[K]
}

// NewMapHeap creates a new empty MapHeap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		h: heapSlice[K]{
			items:    make([]*HeapItem[K], 0),
			itemsMap: make(map[K]*HeapItem[K]),
		},
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (hs *heapSlice[K]) Len() int { return len(hs.items) }

func (hs *heapSlice[K]) Less(i, j int) bool {
	return hs.items[i].Priority < hs.items[j].Priority
}

func (hs *heapSlice[K]) Swap(i, j int) {
	hs.items[i], hs.items[j] = hs.items[j], hs.items[i]
	hs.items[i].index = i
	hs.items[j].index = j
}

func (hs *heapSlice[K]) Push(x interface{}) {
	it := x.(*HeapItem[K])
	it.index = len(hs.items)
	hs.items = append(hs.items, it)
	hs.itemsMap[it.Key] = it
}

func (hs *heapSlice[K]) Pop() interface{} {
	old := hs.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	hs.items = old[:n-1]
	delete(hs.itemsMap, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Key aware operations
// --------------------------------------------------------------------------

// Len returns the number of items in the heap
func (mh *MapHeap[K]) Len() int { return mh.h.Len() }

// AddItem adds a new item or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := mh.h.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(&mh.h, it.index)
		return
	}
	heap.Push(&mh.h, &HeapItem[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := mh.h.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(&mh.h, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap[K]) Peek() (HeapItem[K], bool) {
	if len(mh.h.items) == 0 {
		return HeapItem[K]{}, false
	}
	return *mh.h.items[0], true
}

// PopMin removes and returns the item with the lowest priority
func (mh *MapHeap[K]) PopMin() (HeapItem[K], bool) {
	if len(mh.h.items) == 0 {
		return HeapItem[K]{}, false
	}
	it := heap.Pop(&mh.h).(*HeapItem[K])
	return *it, true
}

// Contains checks if a key exists in the heap
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.h.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (HeapItem[K], bool) {
	it, exists := mh.h.itemsMap[key]
	if !exists {
		return HeapItem[K]{}, false
	}
	return *it, true
}

// Clear removes all items
func (mh *MapHeap[K]) Clear() {
	for i := range mh.h.items {
		mh.h.items[i] = nil
	}
	mh.h.items = mh.h.items[:0]
	mh.h.itemsMap = make(map[K]*HeapItem[K])
}
