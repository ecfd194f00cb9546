package media

import (
	"sync"
	"testing"
	"time"
)

func TestPipelineEmitDuringCloseDoesNotPanic(t *testing.T) {
	e := NewPipelineElement("ffmpeg", 10)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 500; j++ {
				e.emit(Event{Type: EventTimeUpdate, Position: time.Duration(j)})
			}
		}()
	}

	close(start)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	// Emits racing a finished Close must be silently dropped.
	e.emit(Event{Type: EventEnded})
}

func TestPipelineCloseIsIdempotent(t *testing.T) {
	e := NewPipelineElement("ffmpeg", 10)
	if err := e.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-e.Events(); ok {
		t.Fatal("event channel must be closed")
	}
}
