package rpc

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// operationReceipt digests a completed state-changing operation: the method,
// its canonical attributes, and the event sequence it committed at. The
// digest is stable across encoders because attributes are serialized in
// sorted key order.
func operationReceipt(method string, sequence uint64, attrs map[string]string) string {
	type pair struct {
		Key   string `json:"k"`
		Value string `json:"v"`
	}
	record := struct {
		Method   string `json:"method"`
		Sequence uint64 `json:"seq"`
		Attrs    []pair `json:"attrs"`
	}{Method: method, Sequence: sequence}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Attrs = append(record.Attrs, pair{Key: k, Value: attrs[k]})
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
