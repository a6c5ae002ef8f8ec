package copyout

// Batch is an ordered group of copy items served by exactly one dispatched job.
type Batch struct {
	// Index is the position of the batch within its run.
	Index       int
	Items       []CopyItem
	Destination string
	Params      map[string]string
}

// Sources projects the batch items into copy-engine source strings, in order.
func (b Batch) Sources() []string {
	sources := make([]string, len(b.Items))
	for i, item := range b.Items {
		sources[i] = item.Source()
	}
	return sources
}

// MakeBatches partitions items into batches of at most maxItemsPerBatch items, preserving
// input order. Every batch except possibly the last is full. maxItemsPerBatch is validated
// when the request is parsed; values below one are treated as one and values above the
// number of items as the number of items.
func MakeBatches(items []CopyItem, maxItemsPerBatch int, destination string, params map[string]string) []Batch {
	if maxItemsPerBatch < 1 {
		maxItemsPerBatch = 1
	}
	if maxItemsPerBatch > len(items) {
		maxItemsPerBatch = max(len(items), 1)
	}

	batches := make([]Batch, 0, (len(items)+maxItemsPerBatch-1)/maxItemsPerBatch)
	for start := 0; start < len(items); start += maxItemsPerBatch {
		end := start + maxItemsPerBatch
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, Batch{
			Index:       len(batches),
			Items:       items[start:end:end],
			Destination: destination,
			Params:      params,
		})
	}
	return batches
}
