package bytes_pool

import (
	"sync"
	"testing"
)

func TestGet(t *testing.T) {
	for _, n := range []int{0, 1, 511, 512, 513, 4096, 10000, 65536, 70000} {
		buf := Get(n)
		if len(buf) != n {
			t.Errorf("Get(%d) return length %d", n, len(buf))
		}
		Put(buf)
	}
}

func TestPutReuse(t *testing.T) {
	buf := Get(1000)
	if cap(buf) != 4096 {
		t.Fatalf("Get(1000) should use the 4096 class, got cap %d", cap(buf))
	}
	Put(buf)

	// odd sized buffers are not pooled
	Put(make([]byte, 1000))
	buf = Get(4096)
	if cap(buf) != 4096 {
		t.Fatalf("unexpected cap %d", cap(buf))
	}
}

func TestConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				buf := Get((i*j)%70000 + 1)
				buf[0] = byte(j)
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}
