package events

import (
	"log"
	"reflect"
	"sync"
)

type subscriber struct {
	id uint64
	fn func(any)
}

var (
	mu     sync.RWMutex
	nextID uint64
	subs   = map[string][]subscriber{} // type name -> subs
)

func typeNameOf[T any]() string {
	var zero *T
	rt := reflect.TypeOf(zero).Elem() // *T -> T without dereferencing nil
	return rt.PkgPath() + "." + rt.Name()
}

// Subscribe registers fn for events of type T and returns its cancel func.
func Subscribe[T any](fn func(T)) func() {
	name := typeNameOf[T]()
	wrapped := func(v any) {
		if ev, ok := v.(T); ok {
			fn(ev)
		}
	}

	mu.Lock()
	nextID++
	id := nextID
	subs[name] = append(subs[name], subscriber{id: id, fn: wrapped})
	mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			ss := subs[name]
			for i, s := range ss {
				if s.id == id {
					subs[name] = append(ss[:i:i], ss[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev synchronously to every subscriber of T. A panicking
// subscriber is logged and does not stop the others.
func Publish[T any](ev T) {
	name := typeNameOf[T]()
	mu.RLock()
	ss := append([]subscriber(nil), subs[name]...)
	mu.RUnlock()
	for _, s := range ss {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[bus] subscriber of %s panicked: %v", name, r)
				}
			}()
			s.fn(ev)
		}()
	}
}

// Count returns how many subscribers T has.
func Count[T any]() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(subs[typeNameOf[T]()])
}
