package mediadb

// MaxPageSize caps the size argument of every list operation.
const MaxPageSize = 50

// clampPage applies the listing rules: size is capped at MaxPageSize and
// negative offsets count from zero.
func clampPage(offset, size int) (int, int) {
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if size < 0 {
		size = 0
	}
	if offset < 0 {
		offset = 0
	}
	return offset, size
}

// page returns the window [offset, offset+size) of items after clamping.
func page[T any](items []T, offset, size int) []T {
	offset, size = clampPage(offset, size)
	if offset >= len(items) || size == 0 {
		return []T{}
	}
	end := min(offset+size, len(items))
	return items[offset:end]
}

// decodeAll decodes every document, failing on the first malformed one.
func decodeAll[T any](enc EncodingMethod, docs [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := decodeDoc[T](enc, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func filter[T any](items []*T, keep func(*T) bool) []*T {
	out := make([]*T, 0, len(items))
	for _, v := range items {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
