package receiver

// Observer receives ingestion telemetry. Methods are called on the worker
// goroutine and must not block.
type Observer interface {
	Ingested(stream string, cat Category, bytes int)
	Evicted(stream string, cat Category)
	Dropped(stream string, cat Category)
	Mismatch(stream string, slot int)
	Buffered(stream string, cat Category, length, capacity int)
	Listening(stream string, listening bool)
}

// NopObserver discards all telemetry.
type NopObserver struct{}

func (NopObserver) Ingested(string, Category, int) {}
func (NopObserver) Evicted(string, Category) {}
func (NopObserver) Dropped(string, Category) {}
func (NopObserver) Mismatch(string, int) {}
func (NopObserver) Buffered(string, Category, int, int) {}
func (NopObserver) Listening(string, bool) {}

var _ Observer = NopObserver{}
